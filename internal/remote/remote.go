// Package remote applies queued mutations to the remote sync service.
package remote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/asteroid-belt/fieldsync/internal/models"
)

var (
	// ErrTransient marks failures worth retrying: network, timeouts,
	// throttling and server errors.
	ErrTransient = errors.New("transient remote failure")

	// ErrPermanent marks failures the remote will never accept as-is.
	ErrPermanent = errors.New("permanent remote failure")
)

// Mutation is one queued change sent to the remote.
type Mutation struct {
	QueueID    uint64
	Action     models.Action
	TargetType string
	TargetID   string
	Payload    json.RawMessage

	// Photo carries the raw bytes for upload actions.
	Photo *PhotoUpload
}

// PhotoUpload is the binary part of an upload mutation. The metadata is the
// manifest queued with the capture.
type PhotoUpload struct {
	MIMEType   string
	ParentType string
	ParentID   string
	Caption    string
	SHA256     string
	Data       []byte
}

// Applier applies a mutation to the remote. A nil error means the remote
// acknowledged it.
type Applier interface {
	Apply(ctx context.Context, m Mutation) error
}

// DeviceScoped is implemented by appliers that need the device's persistent
// id, for example to build idempotency keys unique across devices.
type DeviceScoped interface {
	SetDeviceID(id string)
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, m Mutation) error

// Apply calls f(ctx, m).
func (f ApplierFunc) Apply(ctx context.Context, m Mutation) error {
	return f(ctx, m)
}

// Outcome is the retry classification of an Apply error.
type Outcome int

const (
	Success Outcome = iota
	Transient
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps an Apply error to an Outcome. Only errors wrapping
// ErrPermanent are permanent; anything unrecognized is retried so that no
// mutation is dropped on an unexpected failure.
func Classify(err error) Outcome {
	if err == nil {
		return Success
	}
	if errors.Is(err, ErrPermanent) {
		return Permanent
	}
	return Transient
}
