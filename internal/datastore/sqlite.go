package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/datastore/migrations"
	"github.com/tphakala/photoindex/internal/errors"
)

// slowQueryThreshold is the duration after which a query is logged as slow.
const slowQueryThreshold = 200 * time.Millisecond

// SQLiteStore implements the datastore Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
	dbPath   string
}

func validateSQLiteConfig(settings *conf.Settings) error {
	if settings == nil {
		return validationError("settings are nil", "settings", nil)
	}
	if settings.Library.DataDir == "" {
		return validationError("data directory is not configured", "library.datadir", "")
	}
	return nil
}

// Open sets up the SQLite database connection and applies pending schema
// migrations. The database file is created on first use.
func (store *SQLiteStore) Open() error {
	if err := validateSQLiteConfig(store.Settings); err != nil {
		return err // validateSQLiteConfig returns a properly formatted error
	}

	store.dbPath = store.Settings.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(store.dbPath), 0o755); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "create_db_directory").
			Context("path", filepath.Dir(store.dbPath)).
			Build()
	}

	// WAL keeps readers unblocked while stage workers commit, the busy
	// timeout rides out short lock contention, and foreign keys must be
	// requested per connection on SQLite.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", store.dbPath)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: store.createGormLogger()})
	if err != nil {
		return dbError(err, "open", errors.PriorityCritical, "db_path", store.dbPath)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "open", errors.PriorityCritical, "db_path", store.dbPath)
	}

	if err := migrations.MigrateUp(sqlDB); err != nil {
		return dbError(err, "migrate", errors.PriorityCritical, "db_path", store.dbPath)
	}

	store.DB = db

	getLogger().Info("Database opened",
		"path", store.dbPath,
		"journal_mode", "wal")

	return nil
}

// Close releases the underlying database connection.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}

	sqlDB, err := store.DB.DB()
	if err != nil {
		return dbError(err, "close", "")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close", "")
	}
	store.DB = nil
	return nil
}

// DatabaseSizeBytes reports the on-disk size of the database file.
func (store *SQLiteStore) DatabaseSizeBytes() (int64, error) {
	if store.dbPath == "" {
		return 0, validationError("database is not open", "db_path", "")
	}
	info, err := os.Stat(store.dbPath)
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "stat_database").
			Context("path", store.dbPath).
			Build()
	}
	return info.Size(), nil
}

// createGormLogger builds the GORM logger with our structured logging and metrics.
func (store *SQLiteStore) createGormLogger() logger.Interface {
	logLevel := logger.Warn
	if store.Settings.Debug {
		logLevel = logger.Info
	}
	return NewGormLogger(slowQueryThreshold, logLevel, store.metrics)
}
