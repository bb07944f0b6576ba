package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/asteroid-belt/fieldsync/internal/models"
)

// Enqueue appends a mutation to the sync queue. The payload is copied so the
// queued snapshot never changes after this call.
func (db *DB) Enqueue(action models.Action, targetType, targetID string, payload []byte) (*models.SyncQueueItem, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidRecord, action)
	}
	if targetType == "" || targetID == "" {
		return nil, fmt.Errorf("%w: queue target type and id are required", ErrInvalidRecord)
	}

	snapshot := make([]byte, len(payload))
	copy(snapshot, payload)
	if len(snapshot) == 0 {
		snapshot = []byte("null")
	}
	if !json.Valid(snapshot) {
		return nil, fmt.Errorf("%w: payload for %s/%s is not valid JSON", ErrInvalidRecord, targetType, targetID)
	}

	item := &models.SyncQueueItem{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Payload:    snapshot,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := db.Create(item).Error; err != nil {
		return nil, fmt.Errorf("enqueue %s %s/%s: %w", action, targetType, targetID, err)
	}
	return item, nil
}

// ListQueue returns all pending items ordered by id ascending.
func (db *DB) ListQueue() ([]models.SyncQueueItem, error) {
	var items []models.SyncQueueItem
	err := db.Order("id ASC").Find(&items).Error
	return items, err
}

// GetQueueItem returns one queue item or ErrNotFound.
func (db *DB) GetQueueItem(id uint64) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	if err := db.First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// CountQueue returns the number of pending items.
func (db *DB) CountQueue() (int64, error) {
	var count int64
	err := db.Model(&models.SyncQueueItem{}).Count(&count).Error
	return count, err
}

// CountQueueForTarget returns the number of pending items referencing one
// target.
func (db *DB) CountQueueForTarget(targetType, targetID string) (int64, error) {
	var count int64
	err := db.Model(&models.SyncQueueItem{}).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Count(&count).Error
	return count, err
}

// RemoveQueueItem deletes an item after confirmed remote success.
func (db *DB) RemoveQueueItem(id uint64) error {
	result := db.Delete(&models.SyncQueueItem{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	return nil
}

// AcknowledgeQueueItem removes a succeeded item and, when the target has no
// other pending items, clears the target's offline flag. Both happen in one
// transaction. It reports whether the target became fully synced.
func (db *DB) AcknowledgeQueueItem(item *models.SyncQueueItem) (bool, error) {
	var cleared bool
	err := db.Transaction(func(tx *DB) error {
		if err := tx.RemoveQueueItem(item.ID); err != nil {
			return err
		}

		remaining, err := tx.CountQueueForTarget(item.TargetType, item.TargetID)
		if err != nil {
			return fmt.Errorf("count remaining: %w", err)
		}
		if remaining > 0 || item.Action == models.ActionDelete {
			return nil
		}

		if err := tx.SetTargetOffline(item.TargetType, item.TargetID, false); err != nil {
			return fmt.Errorf("clear offline flag: %w", err)
		}
		cleared = true
		return nil
	})
	return cleared, err
}

// RecordQueueFailure increments an item's retry counter after a transient
// failure and returns the new count. The item keeps its position.
func (db *DB) RecordQueueFailure(id uint64, lastErr string, nextAttempt *time.Time) (int, error) {
	result := db.Model(&models.SyncQueueItem{}).Where("id = ?", id).Updates(map[string]any{
		"retries":         gorm.Expr("retries + 1"),
		"last_error":      lastErr,
		"next_attempt_at": nextAttempt,
	})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}

	item, err := db.GetQueueItem(id)
	if err != nil {
		return 0, err
	}
	return item.Retries, nil
}

// ClearQueue deletes every pending item. Diagnostic/reset only.
func (db *DB) ClearQueue() (int64, error) {
	result := db.Where("1 = 1").Delete(&models.SyncQueueItem{})
	return result.RowsAffected, result.Error
}

// TargetExists reports whether the record a queue item points at is still
// stored. Photos live in their own partition.
func (db *DB) TargetExists(targetType, targetID string) (bool, error) {
	var count int64
	var err error
	if targetType == models.EntityTypePhoto {
		err = db.Model(&models.Photo{}).Where("id = ?", targetID).Count(&count).Error
	} else {
		err = db.Model(&models.Entity{}).
			Where("entity_type = ? AND id = ?", targetType, targetID).
			Count(&count).Error
	}
	return count > 0, err
}

// PendingDelete reports whether a delete for the target is queued after the
// given item id.
func (db *DB) PendingDelete(targetType, targetID string, afterID uint64) (bool, error) {
	var count int64
	err := db.Model(&models.SyncQueueItem{}).
		Where("target_type = ? AND target_id = ? AND action = ? AND id > ?",
			targetType, targetID, models.ActionDelete, afterID).
		Count(&count).Error
	return count > 0, err
}

// PendingUpload reports whether another upload for the photo is queued after
// the given item id.
func (db *DB) PendingUpload(photoID string, afterID uint64) (bool, error) {
	var count int64
	err := db.Model(&models.SyncQueueItem{}).
		Where("target_type = ? AND target_id = ? AND action = ? AND id > ?",
			models.EntityTypePhoto, photoID, models.ActionUpload, afterID).
		Count(&count).Error
	return count > 0, err
}

// SetTargetOffline sets the offline flag on an entity or photo.
func (db *DB) SetTargetOffline(targetType, targetID string, offline bool) error {
	if targetType == models.EntityTypePhoto {
		return db.SetPhotoOffline(targetID, offline)
	}
	return db.SetEntityOffline(targetType, targetID, offline)
}
