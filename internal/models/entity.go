// Package models defines the records persisted by the offline store.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// Well-known entity types captured in the field. The store accepts any
// non-empty type tag; these are the ones the inspection client writes.
const (
	EntityTypeInspection = "inspection"
	EntityTypeComment    = "comment"
	EntityTypePhoto      = "photo"
)

// Entity is one domain record (inspection, comment, ...). The payload is
// opaque to the sync engine.
//
// All entity types share one table partitioned by EntityType; insertion
// order is the SQLite rowid, which upserts preserve.
type Entity struct {
	EntityType string         `gorm:"primaryKey;size:64" json:"entity_type"`
	ID         string         `gorm:"primaryKey;size:128" json:"id"`
	ParentID   string         `gorm:"size:128;index" json:"parent_id,omitempty"`
	Payload    datatypes.JSON `json:"payload"`

	// Offline stays true until the remote has acknowledged the latest state.
	Offline bool `gorm:"index" json:"offline"`

	LastModified time.Time `json:"last_modified"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Entity) TableName() string {
	return "entities"
}

// Key returns the "type/id" form used in logs and events.
func (e *Entity) Key() string {
	return e.EntityType + "/" + e.ID
}
