package crdt

import "errors"

var (
	// ErrNotFound is returned when a local write targets an absent key.
	ErrNotFound = errors.New("key not found")

	// ErrUnknownCollection is returned for ops naming an unknown collection.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrInvalidUpdate is returned for malformed remote updates.
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrOutOfRange is returned for text edits outside the visible text.
	ErrOutOfRange = errors.New("text index out of range")
)
