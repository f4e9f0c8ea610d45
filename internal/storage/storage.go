// Package storage selects the ports.Store implementation named in config.
package storage

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/config"
	"github.com/tjfontaine/polyglot-model-governor/internal/storage/memory"
	"github.com/tjfontaine/polyglot-model-governor/internal/storage/sqldb"
)

// Open returns the store for cfg.Driver: memory, sqlite or postgres.
func Open(cfg config.StorageConfig) (ports.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return memory.New(), nil
	case "", "sqlite", "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file:governor.db"
		}
		return sqldb.NewSQLite(dsn)
	default:
		store, err := sqldb.New(sqldb.Config{Driver: cfg.Driver, DSN: cfg.DSN})
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
		}
		return store, nil
	}
}
