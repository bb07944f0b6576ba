package models

import (
	"time"

	"gorm.io/datatypes"
)

// Action is the mutation intent recorded in a queue item.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionUpload Action = "upload"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionUpload, ActionDelete:
		return true
	}
	return false
}

// SyncQueueItem is one pending mutation. The ID is an SQLite AUTOINCREMENT
// key, so it is never reused and defines processing order.
type SyncQueueItem struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Action     Action `gorm:"size:20" json:"action"`
	TargetType string `gorm:"size:64;index:idx_queue_target" json:"target_type"`
	TargetID   string `gorm:"size:128;index:idx_queue_target" json:"target_id"`

	// Payload is a snapshot frozen at enqueue time.
	Payload datatypes.JSON `json:"payload"`

	EnqueuedAt    time.Time  `json:"enqueued_at"`
	Retries       int        `gorm:"default:0" json:"retries"`
	LastError     string     `gorm:"type:text" json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// TableName specifies the table name for GORM.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// DeadLetterReason explains why an item left the active queue without
// succeeding.
type DeadLetterReason string

const (
	DeadLetterRejected         DeadLetterReason = "rejected"
	DeadLetterRetriesExhausted DeadLetterReason = "retries_exhausted"
	DeadLetterCorrupt          DeadLetterReason = "corrupt"
)

// DeadLetter keeps a failed queue item for diagnostics and manual follow-up.
type DeadLetter struct {
	ID         uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	QueueID    uint64           `gorm:"index" json:"queue_id"`
	Action     Action           `gorm:"size:20" json:"action"`
	TargetType string           `gorm:"size:64" json:"target_type"`
	TargetID   string           `gorm:"size:128;index" json:"target_id"`
	Payload    datatypes.JSON   `json:"payload"`
	Retries    int              `json:"retries"`
	Reason     DeadLetterReason `gorm:"size:32" json:"reason"`
	Error      string           `gorm:"type:text" json:"error"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
	FailedAt   time.Time        `json:"failed_at"`
}

// TableName specifies the table name for GORM.
func (DeadLetter) TableName() string {
	return "dead_letters"
}
