package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"checkout-payments/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Open connects to the database selected by cfg.Driver.
func Open(cfg config.Database) (*bun.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(cfg.PostgresDSN())
	case "sqlite":
		return NewSQLite(cfg.Path)
	}
	return nil, fmt.Errorf("database: unsupported driver %q", cfg.Driver)
}

func NewPostgres(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open postgres: %w", err)
	}
	sqldb.SetMaxOpenConns(25)
	sqldb.SetConnMaxIdleTime(30 * time.Second)
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// NewSQLite opens a SQLite database. A single connection serialises writers,
// which keeps conditional updates race-free without busy retries.
func NewSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Health pings the database and reports pool usage against the connection
// limit set when the pool was opened.
func Health(ctx context.Context, db *bun.DB) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	report := map[string]string{"dialect": db.Dialect().Name().String()}
	if err := db.PingContext(ctx); err != nil {
		report["status"] = "down"
		report["error"] = err.Error()
		return report
	}

	pool := db.Stats()
	report["status"] = "up"
	report["in_use"] = strconv.Itoa(pool.InUse)
	report["max_open"] = strconv.Itoa(pool.MaxOpenConnections)
	report["idle"] = strconv.Itoa(pool.Idle)
	report["wait_count"] = strconv.FormatInt(pool.WaitCount, 10)
	report["wait_duration"] = pool.WaitDuration.String()
	return report
}
