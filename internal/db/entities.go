package db

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/asteroid-belt/fieldsync/internal/models"
)

// Secondary indexes available to GetEntitiesByIndex.
const (
	IndexParentID = "parent_id"
	IndexOffline  = "offline"
)

// PutEntity upserts an entity by (entity_type, id), stamping LastModified.
// It has no side effect on the sync queue.
func (db *DB) PutEntity(e *models.Entity) error {
	if e.EntityType == "" || e.ID == "" {
		return fmt.Errorf("%w: entity type and id are required", ErrInvalidRecord)
	}
	e.LastModified = time.Now().UTC()
	if len(e.Payload) == 0 {
		e.Payload = []byte("{}")
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"parent_id", "payload", "offline", "last_modified"}),
	}).Create(e).Error
}

// GetEntity returns a single entity or ErrNotFound.
func (db *DB) GetEntity(entityType, id string) (*models.Entity, error) {
	var e models.Entity
	err := db.Where("entity_type = ? AND id = ?", entityType, id).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// GetEntities returns all entities of a type in insertion order.
func (db *DB) GetEntities(entityType string) ([]models.Entity, error) {
	var entities []models.Entity
	err := db.Where("entity_type = ?", entityType).Order("rowid").Find(&entities).Error
	return entities, err
}

// GetEntitiesByIndex returns entities of a type whose indexed column equals
// value, in insertion order.
func (db *DB) GetEntitiesByIndex(entityType, index string, value any) ([]models.Entity, error) {
	switch index {
	case IndexParentID:
	case IndexOffline:
		b, err := toBool(value)
		if err != nil {
			return nil, fmt.Errorf("offline index value: %w", err)
		}
		value = b
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, index)
	}

	var entities []models.Entity
	err := db.Where("entity_type = ?", entityType).
		Where(index+" = ?", value).
		Order("rowid").
		Find(&entities).Error
	return entities, err
}

// RemoveEntity deletes one entity. Removing a missing entity is not an error.
func (db *DB) RemoveEntity(entityType, id string) error {
	return db.Where("entity_type = ? AND id = ?", entityType, id).Delete(&models.Entity{}).Error
}

// ClearEntities deletes every entity of a type and returns how many were
// removed. Used by logout/reset flows.
func (db *DB) ClearEntities(entityType string) (int64, error) {
	result := db.Where("entity_type = ?", entityType).Delete(&models.Entity{})
	return result.RowsAffected, result.Error
}

// EntityTypes lists the distinct entity types present, sorted.
func (db *DB) EntityTypes() ([]string, error) {
	var types []string
	err := db.Model(&models.Entity{}).Distinct("entity_type").Order("entity_type").Pluck("entity_type", &types).Error
	return types, err
}

// SetEntityOffline updates the offline flag without touching LastModified.
func (db *DB) SetEntityOffline(entityType, id string, offline bool) error {
	return db.Model(&models.Entity{}).
		Where("entity_type = ? AND id = ?", entityType, id).
		Update("offline", offline).Error
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	case int:
		return b != 0, nil
	default:
		return false, fmt.Errorf("unsupported type %T", v)
	}
}
