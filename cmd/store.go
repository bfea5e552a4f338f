package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/resilience"
	"github.com/sells-group/genomesim/internal/store"
)

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "genomesim.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	policy := storePolicy()
	policy.OnRetry = resilience.Logger("migrate", "")
	if err := resilience.Do(ctx, policy, st.Migrate); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// storePolicy returns the retry policy for store writes.
func storePolicy() resilience.Policy {
	return resilience.NewPolicy(cfg.Store.RetryAttempts, cfg.Store.RetryBackoffMs)
}
