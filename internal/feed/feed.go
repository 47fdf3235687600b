// README: Change feed contract: payload-free notifications per topic with coalescing delivery.
package feed

import (
	"context"
	"time"

	"ridecore/internal/metrics"
)

type Topic string

const (
	TopicOrders    Topic = "orders"
	TopicPresence  Topic = "presence"
	TopicLocations Topic = "locations"
)

var AllTopics = []Topic{TopicOrders, TopicPresence, TopicLocations}

// Notification says "something on Topic changed"; consumers re-query.
type Notification struct {
	Topic Topic
	At    time.Time
}

type Publisher interface {
	Publish(ctx context.Context, topic Topic) error
}

// Bus delivers notifications to subscribers. The channel returned by
// Subscribe has capacity 1 and is closed once ctx is done.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, topic Topic) (<-chan Notification, error)
}

// offer performs a non-blocking send. A full channel already holds a pending
// notification, which is all a dirty-flag consumer needs.
func offer(ch chan Notification, n Notification) bool {
	select {
	case ch <- n:
		metrics.FeedNotifications.WithLabelValues(string(n.Topic), "delivered").Inc()
		return true
	default:
		metrics.FeedNotifications.WithLabelValues(string(n.Topic), "coalesced").Inc()
		return false
	}
}

func channelName(prefix string, topic Topic) string {
	return prefix + string(topic)
}

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// sleepBackoff waits d (or until ctx is done) and returns the next delay.
func sleepBackoff(ctx context.Context, d time.Duration) (time.Duration, bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return d, false
	case <-t.C:
	}
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d, true
}
