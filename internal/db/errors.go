package db

import "errors"

var (
	// ErrStorageUnavailable means no persistent storage could be opened.
	// It is fatal at init.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrTransaction wraps any failed write unit. Nothing in the unit was
	// committed.
	ErrTransaction = errors.New("transaction failed")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownIndex is returned for lookups on an index that does not exist.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrInvalidRecord is returned when a record is missing its key fields.
	ErrInvalidRecord = errors.New("invalid record")
)
