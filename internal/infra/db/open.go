// Package db selects and opens the configured storage engine.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codesentry/codesentry/internal/config"
	"github.com/codesentry/codesentry/internal/domain/review"
	"github.com/codesentry/codesentry/internal/domain/runlog"
	"github.com/codesentry/codesentry/internal/infra/db/mysql"
	"github.com/codesentry/codesentry/internal/infra/db/postgres"
	"github.com/codesentry/codesentry/internal/infra/db/sqlite"
)

// Engine bundles one opened storage backend.
type Engine struct {
	Store  review.Store
	RunLog runlog.Repository
	SQL    *sql.DB
}

func (e *Engine) Close() error { return e.SQL.Close() }

// Open connects the engine named by database.driver.
func Open(ctx context.Context, cfg *config.Config) (*Engine, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Database.Path, err)
		}
		return &Engine{Store: store, RunLog: sqlite.NewRunLogRepo(store), SQL: store.DB()}, nil
	case "mysql":
		conn, err := mysql.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		store := mysql.NewStore(conn)
		return &Engine{Store: store, RunLog: mysql.NewRunLogRepo(store), SQL: conn}, nil
	case "postgres":
		conn, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := postgres.NewStore(conn)
		return &Engine{Store: store, RunLog: postgres.NewRunLogRepo(store), SQL: conn}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
