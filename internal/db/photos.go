package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/asteroid-belt/fieldsync/internal/models"
)

// PutPhoto upserts a photo with its raw bytes, recomputing size and checksum.
func (db *DB) PutPhoto(p *models.Photo) error {
	if p.ID == "" {
		return fmt.Errorf("%w: photo id is required", ErrInvalidRecord)
	}
	if len(p.Data) == 0 {
		return fmt.Errorf("%w: photo %s has no data", ErrInvalidRecord, p.ID)
	}
	p.ComputeChecksum()
	p.LastModified = time.Now().UTC()

	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"parent_type", "parent_id", "mime_type", "data", "size", "sha256", "caption", "offline", "last_modified",
		}),
	}).Create(p).Error
}

// GetPhoto returns a photo including its bytes, or ErrNotFound.
func (db *DB) GetPhoto(id string) (*models.Photo, error) {
	var p models.Photo
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetPhotosByParent returns the photos attached to a parent entity in
// insertion order.
func (db *DB) GetPhotosByParent(parentID string) ([]models.Photo, error) {
	var photos []models.Photo
	err := db.Where("parent_id = ?", parentID).Order("rowid").Find(&photos).Error
	return photos, err
}

// ClearPhotos deletes every stored photo.
func (db *DB) ClearPhotos() (int64, error) {
	result := db.Where("1 = 1").Delete(&models.Photo{})
	return result.RowsAffected, result.Error
}

// SetPhotoOffline updates the photo's offline flag.
func (db *DB) SetPhotoOffline(id string, offline bool) error {
	return db.Model(&models.Photo{}).Where("id = ?", id).Update("offline", offline).Error
}
