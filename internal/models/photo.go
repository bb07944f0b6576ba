package models

import (
	"time"

	"github.com/asteroid-belt/fieldsync/internal/hash"
)

// Photo is a captured binary payload. The raw bytes are kept locally so a
// capture survives restarts before any upload attempt.
type Photo struct {
	ID         string `gorm:"primaryKey;size:128" json:"id"`
	ParentType string `gorm:"size:64" json:"parent_type"`
	ParentID   string `gorm:"size:128;index" json:"parent_id"`
	MIMEType   string `gorm:"size:100" json:"mime_type"`
	Data       []byte `json:"-"`
	Size       int64  `json:"size"`
	SHA256     string `gorm:"size:64" json:"sha256"`
	Caption    string `gorm:"size:1000" json:"caption,omitempty"`

	Offline bool `gorm:"index" json:"offline"`

	LastModified time.Time `json:"last_modified"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Photo) TableName() string {
	return "photos"
}

// ComputeChecksum fills Size and SHA256 from Data.
func (p *Photo) ComputeChecksum() {
	p.SHA256 = hash.Checksum(p.Data)
	p.Size = int64(len(p.Data))
}

// PhotoManifest is the payload snapshot queued for a photo upload. The bytes
// themselves are read from the photos table at upload time.
type PhotoManifest struct {
	ID         string `json:"id"`
	ParentType string `json:"parent_type"`
	ParentID   string `json:"parent_id"`
	MIMEType   string `json:"mime_type"`
	Size       int64  `json:"size"`
	SHA256     string `json:"sha256"`
	Caption    string `json:"caption,omitempty"`
}

// Manifest returns the upload manifest for the photo.
func (p *Photo) Manifest() PhotoManifest {
	return PhotoManifest{
		ID:         p.ID,
		ParentType: p.ParentType,
		ParentID:   p.ParentID,
		MIMEType:   p.MIMEType,
		Size:       p.Size,
		SHA256:     p.SHA256,
		Caption:    p.Caption,
	}
}
