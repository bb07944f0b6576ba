package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/asteroid-belt/fieldsync/internal/models"
)

// syncMetaTrackingID holds the anonymous telemetry id for this device.
const syncMetaTrackingID = "tracking_id"

// GetSyncMeta retrieves a sync metadata value.
func (db *DB) GetSyncMeta(key string) (string, error) {
	var meta models.SyncMeta
	err := db.First(&meta, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return meta.Value, nil
}

// SetSyncMeta sets a sync metadata value.
func (db *DB) SetSyncMeta(key, value string) error {
	meta := models.SyncMeta{Key: key, Value: value}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&meta).Error
}

// LastSyncTime returns when a drain last had at least one success, or nil.
func (db *DB) LastSyncTime() (*time.Time, error) {
	v, err := db.GetSyncMeta(models.SyncMetaLastSyncTime)
	if err != nil || v == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, nil
	}
	return &t, nil
}

// SetLastSyncTime records a successful sync time.
func (db *DB) SetLastSyncTime(t time.Time) error {
	return db.SetSyncMeta(models.SyncMetaLastSyncTime, t.UTC().Format(time.RFC3339Nano))
}

// GetOrCreateTrackingID returns the persistent anonymous device id, creating
// it on first use. An id that could not be stored is never returned.
func (db *DB) GetOrCreateTrackingID() (string, error) {
	id, err := db.GetSyncMeta(syncMetaTrackingID)
	if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	if id != "" {
		return id, nil
	}
	id = uuid.New().String()
	if err := db.SetSyncMeta(syncMetaTrackingID, id); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}
