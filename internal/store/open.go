// internal/store/open.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"recordstore/internal/config"
)

// Open returns the store selected by cfg.Driver. A Postgres store is pinged
// and migrated before it is returned.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		p := NewPostgres(db)
		if err := p.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
