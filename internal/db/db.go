// Package db provides the GORM-based local store for fieldsync.
// It uses the pure-Go SQLite driver so captured records survive restarts
// without cgo.
package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/asteroid-belt/fieldsync/internal/models"
)

// DB wraps the GORM database connection with fieldsync-specific operations.
type DB struct {
	*gorm.DB
	path string
}

// Config holds database configuration options.
type Config struct {
	Path        string
	Debug       bool
	MaxIdleConn int
	MaxOpenConn int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		Debug:       false,
		MaxIdleConn: 1,
		MaxOpenConn: 1,
	}
}

// New opens (or creates) the database and runs migrations.
// It is idempotent: opening an existing file keeps every stored record.
func New(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrStorageUnavailable)
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create db directory: %w", ErrStorageUnavailable, err)
	}

	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}

	// DELETE journal mode: WAL has visibility issues with the pure-Go driver.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(DELETE)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrStorageUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: get sql.DB: %w", ErrStorageUnavailable, err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: ping database: %w", ErrStorageUnavailable, err)
	}

	wrapped := &DB{DB: db, path: cfg.Path}

	if err := wrapped.migrate(); err != nil {
		_ = wrapped.Close()
		return nil, fmt.Errorf("%w: migrate: %w", ErrStorageUnavailable, err)
	}

	if err := wrapped.seedSyncMeta(); err != nil {
		_ = wrapped.Close()
		return nil, fmt.Errorf("seed sync meta: %w", err)
	}

	return wrapped, nil
}

// migrate runs GORM auto-migrations for all partitions.
func (db *DB) migrate() error {
	return db.AutoMigrate(
		&models.Entity{},
		&models.Photo{},
		&models.SyncQueueItem{},
		&models.DeadLetter{},
		&models.SyncMeta{},
	)
}

// seedSyncMeta inserts default sync metadata if not present.
func (db *DB) seedSyncMeta() error {
	defaults := []models.SyncMeta{
		{Key: models.SyncMetaLastSyncTime, Value: ""},
		{Key: models.SyncMetaSchemaVersion, Value: models.SchemaVersion},
	}

	for _, meta := range defaults {
		// Only insert if not exists
		result := db.Where("key = ?", meta.Key).FirstOrCreate(&meta)
		if result.Error != nil {
			return result.Error
		}
	}

	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithContext returns a handle whose statements are bound to ctx. A
// cancelled ctx aborts statements not yet run.
func (d *DB) WithContext(ctx context.Context) *DB {
	return &DB{DB: d.DB.WithContext(ctx), path: d.path}
}

// Transaction executes fc as one atomic unit.
// The callback receives a *DB wrapper that uses the transaction.
// If the callback returns an error, every write in the unit is rolled back
// and the error is wrapped with ErrTransaction.
func (d *DB) Transaction(fc func(tx *DB) error) error {
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		wrappedTx := &DB{DB: tx, path: d.path}
		return fc(wrappedTx)
	})
	if err != nil && !errors.Is(err, ErrTransaction) {
		return fmt.Errorf("%w: %w", ErrTransaction, err)
	}
	return err
}

// Stats summarizes the local store.
type Stats struct {
	Entities    map[string]int64
	Photos      int64
	Queued      int64
	DeadLetters int64
	SizeBytes   int64
}

// GetStats returns aggregate statistics about the database.
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{Entities: make(map[string]int64)}

	type typeCount struct {
		EntityType string
		Count      int64
	}
	var counts []typeCount
	if err := db.Model(&models.Entity{}).
		Select("entity_type, COUNT(*) AS count").
		Group("entity_type").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count entities: %w", err)
	}
	for _, c := range counts {
		stats.Entities[c.EntityType] = c.Count
	}

	if err := db.Model(&models.Photo{}).Count(&stats.Photos).Error; err != nil {
		return nil, fmt.Errorf("count photos: %w", err)
	}
	if err := db.Model(&models.SyncQueueItem{}).Count(&stats.Queued).Error; err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}
	deadLetters, err := db.CountDeadLetters()
	if err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}
	stats.DeadLetters = deadLetters

	if info, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = info.Size()
	}

	return stats, nil
}
