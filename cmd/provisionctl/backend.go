package main

import (
	"context"
	"fmt"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/config"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/db"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/metadata"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/metadata/gormstore"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/metadata/redisstore"
)

// openTracker builds the status tracker for the configured metadata
// backend. The returned func releases the backend's connections.
func openTracker(ctx context.Context, cfg *config.Config) (*metadata.Tracker, func() error, error) {
	noop := func() error { return nil }

	switch cfg.MetadataBackend {
	case "", config.BackendMemory:
		return metadata.NewTracker(metadata.NewMemoryStore()), noop, nil

	case config.BackendPostgres:
		database, err := db.Connect(db.Config{URL: cfg.DatabaseURL, Debug: cfg.LogLevel == "debug"})
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := database.DB()
		if err != nil {
			return nil, nil, err
		}
		return metadata.NewTracker(gormstore.New(database.WithContext(ctx))), sqlDB.Close, nil

	case config.BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("redis_addr is required for the %s metadata backend", config.BackendRedis)
		}
		store, err := redisstore.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return metadata.NewTracker(store), store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown metadata_backend %q (want %s, %s or %s)",
			cfg.MetadataBackend, config.BackendMemory, config.BackendPostgres, config.BackendRedis)
	}
}
