package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	sqlStore
	Config *models.MConfig
	Schema string
}

// -----------------------------------------------------------------------------

// NewPostgresDB keeps every table in a schema named after the executable.
func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return newPostgresDB(cfg, log, name), nil
}

func newPostgresDB(cfg *models.MConfig, log *logger.Logger, schema string) *PostgresDB {
	return &PostgresDB{
		sqlStore: sqlStore{
			Logger:        log,
			RetentionDays: cfg.DataRetentionDays,
			dialect: dialect{
				table:  func(name string) string { return fmt.Sprintf(`"%s"."%s"`, schema, name) },
				dollar: true,
			},
		},
		Config: cfg,
		Schema: schema,
	}
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	db, err := sql.Open("postgres", d.Config.Storage.DBConnectionString)
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}
	d.DB = db

	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}
	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	queries := []struct{ name, ddl string }{
		{"quote_updates", `(
			id BIGSERIAL PRIMARY KEY,
			seq BIGINT,
			symbol TEXT,
			bid NUMERIC,
			ask NUMERIC,
			prev_bid NUMERIC,
			prev_ask NUMERIC,
			spread NUMERIC,
			mid NUMERIC,
			ts BIGINT
		)`},
		{"port_reports", `(
			run_id TEXT,
			host TEXT,
			port INTEGER,
			open BOOLEAN,
			responsive BOOLEAN,
			probes JSONB,
			scanned_at BIGINT,
			PRIMARY KEY (run_id, port)
		)`},
		{"frames", `(
			id BIGSERIAL PRIMARY KEY,
			origin TEXT,
			session_id TEXT,
			ts BIGINT,
			source TEXT,
			destination TEXT,
			direction TEXT,
			template TEXT,
			summary TEXT,
			hex TEXT,
			truncated BOOLEAN
		)`},
	}

	for _, q := range queries {
		if _, err := d.DB.Exec(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s;", d.t(q.name), q.ddl)); err != nil {
			return fmt.Errorf("failed to create %s: %w", q.name, err)
		}
	}
	return nil
}
