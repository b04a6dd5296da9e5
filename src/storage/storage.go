package storage

import (
	"rtrader-bridge/src/helpers"
	"rtrader-bridge/src/interfaces"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"
)

// Open builds the store named by storage.db_type and creates its tables.
func Open(cfg *models.MConfig, log *logger.Logger) (interfaces.IDatabase, error) {
	var (
		db  interfaces.IDatabase
		err error
	)
	switch cfg.Storage.DBType {
	case "postgres":
		db, err = NewPostgresDB(cfg, log.Named("PostgresDB"))
	default:
		db, err = NewSQLiteDB(cfg, log.Named("SQLiteDB"))
	}
	if err != nil {
		return nil, helpers.NewConfigurationError("storage", err)
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, helpers.NewStorageError("initialize "+cfg.Storage.DBType, err)
	}
	return db, nil
}
