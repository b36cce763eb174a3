package core

import (
	"fmt"
	"io"

	"workassign/internal/config"
	"workassign/internal/infra/persistence/memory"
	"workassign/internal/infra/persistence/postgres"
	"workassign/internal/infra/persistence/sqlite"
	"workassign/pkg/domain"
)

// OpenPersistentStore selects a backend from cfg. An empty driver defaults
// to sqlite.
//
//	memory:   in-process only (tests / ephemeral)
//	sqlite:   embedded file at cfg.SQLitePath
//	postgres: server at cfg.PostgresDSN
func OpenPersistentStore(cfg config.StorageConfig, engine *RulesEngine) (PersistentStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.StorageSQLite
	}
	switch driver {
	case config.StorageMemory:
		return memory.NewStore(engine), nil
	case config.StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case config.StoragePostgres:
		ps, err := postgres.NewStore(cfg.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s: %w", driver, domain.ErrInvalid)
	}
}

// CloseStore releases the resources held by durable backends. It is a no-op
// for stores that hold none.
func CloseStore(store PersistentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
