// README: Bus over Postgres NOTIFY/LISTEN; each subscription holds one pooled connection.
package feed

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"ridecore/internal/metrics"
)

const pgPrefix = "ridecore_feed_"

type PostgresBus struct {
	db  *pgxpool.Pool
	log logrus.FieldLogger
}

func NewPostgresBus(db *pgxpool.Pool, log logrus.FieldLogger) *PostgresBus {
	return &PostgresBus{db: db, log: log}
}

func (b *PostgresBus) Publish(ctx context.Context, topic Topic) error {
	metrics.FeedNotifications.WithLabelValues(string(topic), "published").Inc()
	_, err := b.db.Exec(ctx, `SELECT pg_notify($1, $2)`,
		channelName(pgPrefix, topic), strconv.FormatInt(time.Now().UnixMilli(), 10))
	return err
}

func (b *PostgresBus) Subscribe(ctx context.Context, topic Topic) (<-chan Notification, error) {
	ident := pgx.Identifier{channelName(pgPrefix, topic)}.Sanitize()
	return pump(ctx, topic, b.log, func(ctx context.Context) (listener, error) {
		conn, err := b.db.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := conn.Exec(ctx, "LISTEN "+ident); err != nil {
			conn.Release()
			return nil, err
		}
		return &pgListener{conn: conn}, nil
	}), nil
}

type pgListener struct {
	conn *pgxpool.Conn
}

func (l *pgListener) Wait(ctx context.Context) error {
	_, err := l.conn.Conn().WaitForNotification(ctx)
	return err
}

// Close returns a clean connection to the pool and drops a broken one.
func (l *pgListener) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := l.conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = l.conn.Conn().Close(ctx)
	}
	l.conn.Release()
}
