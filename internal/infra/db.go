// README: Postgres connection pool initialization using pgxpool, retried until the server answers.
package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const connectAttempts = 15

func NewDB(ctx context.Context, dsn string, log logrus.FieldLogger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := retry(ctx, log.WithField("dep", "postgres"), func(ctx context.Context) error {
		return pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// retry calls ping until it succeeds, ctx ends, or attempts run out.
func retry(ctx context.Context, log logrus.FieldLogger, ping func(context.Context) error) error {
	var err error
	for i := 1; i <= connectAttempts; i++ {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = ping(pctx)
		cancel()
		if err == nil {
			log.Info("connected")
			return nil
		}
		log.WithError(err).WithField("attempt", i).Warn("waiting for dependency")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", connectAttempts, err)
}
