// README: Bus over Redis pub/sub; one channel per topic.
package feed

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridecore/internal/metrics"
)

const redisPrefix = "ridecore:feed:"

type RedisBus struct {
	rdb *redis.Client
	log logrus.FieldLogger
}

func NewRedisBus(rdb *redis.Client, log logrus.FieldLogger) *RedisBus {
	return &RedisBus{rdb: rdb, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, topic Topic) error {
	metrics.FeedNotifications.WithLabelValues(string(topic), "published").Inc()
	return b.rdb.Publish(ctx, channelName(redisPrefix, topic), time.Now().UnixMilli()).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, topic Topic) (<-chan Notification, error) {
	return pump(ctx, topic, b.log, func(ctx context.Context) (listener, error) {
		ps := b.rdb.Subscribe(ctx, channelName(redisPrefix, topic))
		// Receive blocks until the subscription is confirmed.
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, err
		}
		return &redisListener{ps: ps}, nil
	}), nil
}

type redisListener struct {
	ps *redis.PubSub
}

func (l *redisListener) Wait(ctx context.Context) error {
	_, err := l.ps.ReceiveMessage(ctx)
	return err
}

func (l *redisListener) Close() { _ = l.ps.Close() }
