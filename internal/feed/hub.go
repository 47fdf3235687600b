// README: In-process fan-out bus used by tests and single-process deployments.
package feed

import (
	"context"
	"sync"
	"time"

	"ridecore/internal/metrics"
)

type Hub struct {
	mu   sync.RWMutex
	subs map[Topic]map[chan Notification]struct{}
	now  func() time.Time
}

func NewHub() *Hub {
	return &Hub{subs: make(map[Topic]map[chan Notification]struct{}), now: time.Now}
}

func (h *Hub) Publish(_ context.Context, topic Topic) error {
	n := Notification{Topic: topic, At: h.now()}
	metrics.FeedNotifications.WithLabelValues(string(topic), "published").Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[topic] {
		offer(ch, n)
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, topic Topic) (<-chan Notification, error) {
	ch := make(chan Notification, 1)

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan Notification]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[topic], ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers reports the live subscriber count for topic.
func (h *Hub) Subscribers(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
