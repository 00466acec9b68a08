package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Config describes the history database.
type Config struct {
	Driver      string
	DSN         string
	MaxConns    int32
	DialTimeout time.Duration
}

// ParseDialect normalizes a driver name.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", driver)
	}
}

// Open connects to the configured database and pings it.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	if cfg.DSN == "" {
		return nil, "", fmt.Errorf("%s dsn must be provided", dialect)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	logger.Info("storage.open", "driver", dialect)

	var db *sql.DB
	switch dialect {
	case DialectSQLite:
		db, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite database: %w", err)
		}
		// Writes to one sqlite file are serialized anyway.
		db.SetMaxOpenConns(1)
	case DialectPostgres:
		pc, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, "", fmt.Errorf("parse postgres dsn: %w", err)
		}
		if cfg.MaxConns > 0 {
			pc.MaxConns = cfg.MaxConns
		}
		pc.ConnConfig.RuntimeParams["application_name"] = "sea-bridge"

		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(dialCtx, pc)
		if err != nil {
			return nil, "", fmt.Errorf("connect postgres: %w", err)
		}
		db = stdlib.OpenDBFromPool(pool)
	case DialectMySQL:
		mc, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		mc.ParseTime = true
		if mc.Timeout == 0 {
			mc.Timeout = cfg.DialTimeout
		}
		db, err = sql.Open("mysql", mc.FormatDSN())
		if err != nil {
			return nil, "", fmt.Errorf("open mysql database: %w", err)
		}
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(int(cfg.MaxConns))
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping database: %w", err)
	}

	logger.Info("storage.open.ok", "driver", dialect)
	return db, dialect, nil
}

// Migrate ensures the history table exists.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	scoreType := "DOUBLE PRECISION"
	switch dialect {
	case DialectSQLite:
		scoreType = "REAL"
	case DialectMySQL:
		scoreType = "DOUBLE"
	}

	stmt := `CREATE TABLE IF NOT EXISTS ` + historyTable + ` (
		session_id VARCHAR(64) NOT NULL PRIMARY KEY,
		file_name VARCHAR(255) NOT NULL,
		subject_id VARCHAR(128) NOT NULL,
		job_id VARCHAR(128) NOT NULL,
		phase VARCHAR(32) NOT NULL,
		score ` + scoreType + ` NULL,
		write_status VARCHAR(16) NOT NULL,
		write_code INTEGER NOT NULL,
		error_kind VARCHAR(32) NOT NULL,
		error_message TEXT NOT NULL,
		started_at BIGINT NOT NULL,
		finished_at BIGINT NOT NULL
	)`

	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create %s: %w", historyTable, err)
	}
	return nil
}
