// README: Bus over Kafka; one Kafka topic per feed topic, readers start at the tail.
package feed

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"ridecore/internal/metrics"
)

const (
	kafkaPrefix = "ridecore.feed."
	// readers follow a single partition, so every write lands there
	kafkaPartition = 0
)

type KafkaBus struct {
	brokers []string
	writer  *kafka.Writer
	log     logrus.FieldLogger
}

func NewKafkaBus(brokers []string, log logrus.FieldLogger) *KafkaBus {
	return &KafkaBus{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               onePartition{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		log: log,
	}
}

func (b *KafkaBus) Publish(ctx context.Context, topic Topic) error {
	metrics.FeedNotifications.WithLabelValues(string(topic), "published").Inc()
	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: channelName(kafkaPrefix, topic),
		Value: []byte(strconv.FormatInt(time.Now().UnixMilli(), 10)),
	})
}

func (b *KafkaBus) Subscribe(ctx context.Context, topic Topic) (<-chan Notification, error) {
	return pump(ctx, topic, b.log, func(ctx context.Context) (listener, error) {
		// No GroupID: every subscriber sees every message.
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     b.brokers,
			Topic:       channelName(kafkaPrefix, topic),
			Partition:   kafkaPartition,
			StartOffset: kafka.LastOffset,
			MaxWait:     500 * time.Millisecond,
		})
		return &kafkaListener{r: r}, nil
	}), nil
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}

type onePartition struct{}

func (onePartition) Balance(_ kafka.Message, partitions ...int) int {
	for _, p := range partitions {
		if p == kafkaPartition {
			return p
		}
	}
	return partitions[0]
}

type kafkaListener struct {
	r *kafka.Reader
}

func (l *kafkaListener) Wait(ctx context.Context) error {
	_, err := l.r.ReadMessage(ctx)
	return err
}

func (l *kafkaListener) Close() { _ = l.r.Close() }
