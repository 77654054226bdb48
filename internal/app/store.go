package app

import (
	"context"
	"fmt"
	"time"

	"igautomate/internal/store/memory"
	"igautomate/internal/store/postgres"
	"igautomate/internal/store/redis"
	"igautomate/pkg/config"
	"igautomate/pkg/engagement"
	errs "igautomate/pkg/errors"
	"igautomate/pkg/logger"
	"igautomate/pkg/retry"
)

// SecretResolver looks up a named secret such as the store DSN
type SecretResolver interface {
	Get(name string) (string, error)
}

// OpenStore connects the configured backend. A dsn_secret takes
// precedence over a literal dsn. Connection attempts are retried with
// the maintenance backoff.
func OpenStore(ctx context.Context, cfg *config.Config, secrets SecretResolver, log logger.Logger) (engagement.Store, error) {
	sc := cfg.Store
	log = logger.Component(log, "store").WithField("backend", sc.Backend)

	if sc.Backend == config.BackendMemory {
		log.Warn("Using in-memory store, engagements will not survive a restart")
		return memory.New(), nil
	}

	dsn := sc.DSN
	if sc.DSNSecret != "" {
		if secrets == nil {
			return nil, errs.New(errs.ErrorTypeConfig, "resolve store dsn", fmt.Errorf("no secret store for %q", sc.DSNSecret))
		}
		v, err := secrets.Get(sc.DSNSecret)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeConfig, "resolve store dsn", err)
		}
		dsn = v
	}

	rc := &retry.Config{
		Name:        "open store",
		MaxAttempts: max(cfg.Maintenance.HydrateAttempts, 1),
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    cfg.Maintenance.RetryBackoff,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			JitterFactor: 0.1,
		},
		Logger: log,
	}

	switch sc.Backend {
	case config.BackendPostgres:
		store, err := retry.DoWithResult(ctx, func(ctx context.Context) (*postgres.Store, error) {
			return postgres.Open(ctx, dsn, postgres.Options{
				ConnectTimeout: sc.ConnectTimeout,
				MaxOpenConns:   sc.MaxOpenConns,
			})
		}, rc)
		if err != nil {
			return nil, err
		}
		if sc.Migrate {
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return nil, err
			}
			log.Info("Store schema migrated")
		}
		log.Info("Connected to store")
		return store, nil

	case config.BackendRedis:
		store, err := retry.DoWithResult(ctx, func(ctx context.Context) (*redis.Store, error) {
			return redis.Open(ctx, dsn, sc.RedisKeyPrefix, sc.ConnectTimeout)
		}, rc)
		if err != nil {
			return nil, err
		}
		log.Info("Connected to store")
		return store, nil

	default:
		return nil, errs.New(errs.ErrorTypeConfig, "open store", fmt.Errorf("unknown backend %q", sc.Backend))
	}
}
