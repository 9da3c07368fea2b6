package core

import (
	"context"

	"hujra/internal/config"
	"hujra/internal/infra/persistence/memory"
	"hujra/internal/infra/persistence/postgres"
	"hujra/internal/infra/persistence/sqlite"
	"hujra/pkg/domain"

	"github.com/pkg/errors"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend from configuration. Defaults to
// sqlite when the driver is unset.
func OpenPersistentStore(ctx context.Context, cfg config.StorageConfig, engine *domain.RulesEngine, opts ...memory.Option) (domain.PersistentStore, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
