package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/collerty/game-box-sub000/go/internal/dbconfig"
	"github.com/collerty/game-box-sub000/go/internal/store"
	"github.com/collerty/game-box-sub000/go/internal/store/natskv"
	"github.com/collerty/game-box-sub000/go/internal/store/postgres"
)

// setupStore builds the session document store named by the config.
func setupStore(ctx context.Context, cfg *Config, clock clockwork.Clock) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(clock), func() {}, nil
	case "nats":
		natsCfg := natskv.DefaultConfig()
		natsCfg.URL = cfg.Store.NATS.URL
		natsCfg.Bucket = cfg.Store.NATS.Bucket
		st, err := natskv.New(ctx, natsCfg, clock)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		return st, st.Close, nil
	case "postgres":
		pgCfg := postgres.DefaultConfig()
		pgCfg.DSN = dbconfig.NewConfigFromEnv().DSN()
		st, err := postgres.New(ctx, pgCfg, clock)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
