// README: Entry point; loads config, wires stores, feed and services, starts HTTP server and the presence expiry loop.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridecore/internal/auth"
	"ridecore/internal/config"
	"ridecore/internal/feed"
	httptransport "ridecore/internal/http"
	"ridecore/internal/infra"
	"ridecore/internal/logger"
	"ridecore/internal/modules/location"
	"ridecore/internal/modules/matching"
	"ridecore/internal/modules/order"
	"ridecore/internal/modules/presence"
	"ridecore/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("ridecore-api exited")
	}
}

// deps lazily opens the shared connections so only the configured backends dial.
type deps struct {
	cfg  config.Config
	log  *logrus.Logger
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func (d *deps) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if d.pool != nil {
		return d.pool, nil
	}
	pool, err := infra.NewDB(ctx, d.cfg.DB.DSN, d.log)
	if err != nil {
		return nil, err
	}
	if d.cfg.DB.Migrate {
		if err := infra.Migrate(d.cfg.DB.DSN); err != nil {
			pool.Close()
			return nil, err
		}
		d.log.Info("migrations applied")
	}
	d.pool = pool
	return pool, nil
}

func (d *deps) redis(ctx context.Context) (*redis.Client, error) {
	if d.rdb != nil {
		return d.rdb, nil
	}
	rdb, err := infra.NewRedis(ctx, d.cfg.Redis.Addr, d.log)
	if err != nil {
		return nil, err
	}
	d.rdb = rdb
	return rdb, nil
}

func (d *deps) close() {
	if d.pool != nil {
		d.pool.Close()
	}
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
}

func (d *deps) feed(ctx context.Context) (feed.Bus, func(), error) {
	switch d.cfg.Feed.Backend {
	case "redis":
		rdb, err := d.redis(ctx)
		if err != nil {
			return nil, nil, err
		}
		return feed.NewRedisBus(rdb, d.log), func() {}, nil
	case "postgres":
		pool, err := d.postgres(ctx)
		if err != nil {
			return nil, nil, err
		}
		return feed.NewPostgresBus(pool, d.log), func() {}, nil
	case "kafka":
		bus := feed.NewKafkaBus(d.cfg.Kafka.Brokers, d.log)
		return bus, func() { _ = bus.Close() }, nil
	default:
		return feed.NewHub(), func() {}, nil
	}
}

type stores struct {
	orders   order.Repository
	presence presence.Repository
	trail    func(location.OrderReader) location.Repository
}

func (d *deps) stores(ctx context.Context) (stores, error) {
	if d.cfg.Store.Backend == "memory" {
		return stores{
			orders:   order.NewMemoryStore(),
			presence: presence.NewMemoryStore(),
			trail:    func(r location.OrderReader) location.Repository { return location.NewMemoryStore(r) },
		}, nil
	}
	pool, err := d.postgres(ctx)
	if err != nil {
		return stores{}, err
	}
	rdb, err := d.redis(ctx)
	if err != nil {
		return stores{}, err
	}
	return stores{
		orders:   order.NewStore(pool),
		presence: presence.NewStore(rdb),
		trail:    func(location.OrderReader) location.Repository { return location.NewStore(pool) },
	}, nil
}

func (d *deps) verifier(ctx context.Context) (auth.TokenVerifier, *auth.JWTIssuer, error) {
	if d.cfg.Auth.Firebase.ProjectID != "" {
		v, err := infra.NewFirebaseVerifier(ctx, d.cfg.Auth.Firebase.ProjectID, d.cfg.Auth.Firebase.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return v, nil, nil
	}
	issuer := auth.NewJWTIssuer(d.cfg.Auth.JWTSecret, d.cfg.Auth.Issuer, d.cfg.Auth.TokenTTL)
	return issuer, issuer, nil
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	d := &deps{cfg: cfg, log: log}
	defer d.close()

	st, err := d.stores(ctx)
	if err != nil {
		return err
	}
	bus, closeBus, err := d.feed(ctx)
	if err != nil {
		return err
	}
	defer closeBus()
	verifier, issuer, err := d.verifier(ctx)
	if err != nil {
		return err
	}

	orderSvc := order.NewService(st.orders, bus, log)
	presenceSvc := presence.NewService(st.presence, bus, presence.Config{
		TTL:                cfg.Presence.TTL,
		ExpiryInterval:     cfg.Presence.ExpiryInterval,
		MinPublishInterval: cfg.Presence.MinPublishInterval,
	}, log)
	trailSvc := location.NewService(st.trail(orderSvc), orderSvc, bus, log)
	matchingSvc := matching.NewService(presenceSvc, orderSvc, matching.Config{
		RadiusKm: cfg.Matching.RadiusKm,
		Limit:    cfg.Matching.Limit,
	}, log)

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.NewRouter(httptransport.Deps{
		Orders:   orderSvc,
		Matching: matchingSvc,
		Presence: presenceSvc,
		Trail:    trailSvc,
		Feed:     bus,
		Verifier: verifier,
		Issuer:   issuer,
		Session: session.Config{
			HeartbeatInterval: cfg.Session.HeartbeatInterval,
			RadiusKm:          cfg.Matching.RadiusKm,
			Limit:             cfg.Matching.Limit,
		},
		Log: log,
	})

	go presenceSvc.RunExpiry(ctx)

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":  cfg.HTTP.Addr,
			"store": cfg.Store.Backend,
			"feed":  cfg.Feed.Backend,
		}).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
