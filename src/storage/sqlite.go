package storage

import (
	"database/sql"
	"fmt"

	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type SQLiteDB struct {
	sqlStore
	Config *models.MConfig
}

// -----------------------------------------------------------------------------

func NewSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*SQLiteDB, error) {
	if cfg.Storage.DBPath == "" {
		return nil, fmt.Errorf("sqlite storage needs db_path")
	}
	return &SQLiteDB{
		sqlStore: sqlStore{
			Logger:        log,
			RetentionDays: cfg.DataRetentionDays,
			dialect:       dialect{table: func(name string) string { return name }},
		},
		Config: cfg,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) Initialize() error {
	db, err := sql.Open("sqlite", d.Config.Storage.DBPath)
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}
	// One writer at a time; the poller, relay and API share this handle.
	db.SetMaxOpenConns(1)
	d.DB = db

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) createTables() error {
	queries := map[string]string{
		"quote_updates": `
			CREATE TABLE IF NOT EXISTS quote_updates (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				seq INTEGER,
				symbol TEXT,
				bid TEXT,
				ask TEXT,
				prev_bid TEXT,
				prev_ask TEXT,
				spread TEXT,
				mid TEXT,
				ts INTEGER
			);`,
		"port_reports": `
			CREATE TABLE IF NOT EXISTS port_reports (
				run_id TEXT,
				host TEXT,
				port INTEGER,
				open INTEGER,
				responsive INTEGER,
				probes TEXT,
				scanned_at INTEGER,
				PRIMARY KEY (run_id, port)
			);`,
		"frames": `
			CREATE TABLE IF NOT EXISTS frames (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				origin TEXT,
				session_id TEXT,
				ts INTEGER,
				source TEXT,
				destination TEXT,
				direction TEXT,
				template TEXT,
				summary TEXT,
				hex TEXT,
				truncated INTEGER
			);`,
	}

	for _, table := range []string{"quote_updates", "port_reports", "frames"} {
		if _, err := d.DB.Exec(queries[table]); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}
	return nil
}
