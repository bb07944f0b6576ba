package db

import (
	"time"

	"github.com/asteroid-belt/fieldsync/internal/models"
)

// DeadLetter moves an item out of the active queue into dead_letters in one
// transaction. A missing queue row is tolerated so a retried dead-letter
// never fails twice.
func (db *DB) DeadLetter(item *models.SyncQueueItem, reason models.DeadLetterReason, errMsg string) (*models.DeadLetter, error) {
	dl := &models.DeadLetter{
		QueueID:    item.ID,
		Action:     item.Action,
		TargetType: item.TargetType,
		TargetID:   item.TargetID,
		Payload:    item.Payload,
		Retries:    item.Retries,
		Reason:     reason,
		Error:      errMsg,
		EnqueuedAt: item.EnqueuedAt,
		FailedAt:   time.Now().UTC(),
	}

	err := db.Transaction(func(tx *DB) error {
		if err := tx.Delete(&models.SyncQueueItem{}, "id = ?", item.ID).Error; err != nil {
			return err
		}
		return tx.Create(dl).Error
	})
	if err != nil {
		return nil, err
	}
	return dl, nil
}

// ListDeadLetters returns dead-lettered items, oldest first.
func (db *DB) ListDeadLetters() ([]models.DeadLetter, error) {
	var items []models.DeadLetter
	err := db.Order("id ASC").Find(&items).Error
	return items, err
}

// CountDeadLetters returns the number of dead-lettered items.
func (db *DB) CountDeadLetters() (int64, error) {
	var count int64
	err := db.Model(&models.DeadLetter{}).Count(&count).Error
	return count, err
}

// ClearDeadLetters deletes every dead letter once they have been followed up.
func (db *DB) ClearDeadLetters() (int64, error) {
	result := db.Where("1 = 1").Delete(&models.DeadLetter{})
	return result.RowsAffected, result.Error
}
