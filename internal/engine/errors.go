package engine

import (
	"errors"
	"fmt"
)

// CanvasError represents a command the canvas refused or failed to apply.
//
// Canvas errors include:
//   - Locked block: the block is locked by another actor
//   - Preview read-only: commands are disabled while previewing a snapshot
//   - Not found: the command targets a block or link that does not exist
//   - Invalid command: the command would break a graph invariant
//   - Transaction failure: the replicated document rejected the write
type CanvasError struct {
	// Code identifies the error category.
	Code CanvasErrorCode

	// Message is a human-readable description.
	Message string

	// ID identifies the affected block or link, when there is one.
	ID string

	// Err is the underlying cause for transaction failures.
	Err error
}

// CanvasErrorCode categorizes canvas errors.
type CanvasErrorCode string

const (
	// ErrCodeBlockLocked indicates the block is locked by another actor.
	ErrCodeBlockLocked CanvasErrorCode = "BLOCK_LOCKED"

	// ErrCodeBlockUploading indicates a command on a file placeholder
	// whose upload has not finished. Only deletion is allowed.
	ErrCodeBlockUploading CanvasErrorCode = "BLOCK_UPLOADING"

	// ErrCodePreviewReadOnly indicates a command issued during preview mode.
	ErrCodePreviewReadOnly CanvasErrorCode = "PREVIEW_READ_ONLY"

	// ErrCodeNotFound indicates a missing block or link.
	ErrCodeNotFound CanvasErrorCode = "NOT_FOUND"

	// ErrCodeInvalidCommand indicates a command that breaks an invariant.
	ErrCodeInvalidCommand CanvasErrorCode = "INVALID_COMMAND"

	// ErrCodeTransaction indicates a replicated document failure.
	ErrCodeTransaction CanvasErrorCode = "TRANSACTION_FAILED"
)

// Error implements the error interface.
func (e *CanvasError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ID != "" {
		msg = fmt.Sprintf("%s (id=%s)", msg, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CanvasError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code CanvasErrorCode) bool {
	var ce *CanvasError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsLockedError returns true if the error reports a locked block.
func IsLockedError(err error) bool {
	return hasCode(err, ErrCodeBlockLocked)
}

// IsPreviewError returns true if the command was refused by preview mode.
func IsPreviewError(err error) bool {
	return hasCode(err, ErrCodePreviewReadOnly)
}

// IsNotFoundError returns true if the command targeted a missing entity.
func IsNotFoundError(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsTransactionError returns true for replicated document failures.
func IsTransactionError(err error) bool {
	return hasCode(err, ErrCodeTransaction)
}

// NewLockedError creates a CanvasError for a block locked by another actor.
func NewLockedError(id, owner string) *CanvasError {
	return &CanvasError{
		Code:    ErrCodeBlockLocked,
		Message: fmt.Sprintf("block is locked by %s", owner),
		ID:      id,
	}
}

// IsUploadingError returns true if err rejects a command on an
// uploading file placeholder.
func IsUploadingError(err error) bool {
	return hasCode(err, ErrCodeBlockUploading)
}

// NewUploadingError creates a CanvasError for a command on an uploading
// file placeholder.
func NewUploadingError(id string) *CanvasError {
	return &CanvasError{
		Code:    ErrCodeBlockUploading,
		Message: "file is still uploading",
		ID:      id,
	}
}

// NewPreviewError creates a CanvasError for a command issued in preview.
func NewPreviewError(command string) *CanvasError {
	return &CanvasError{
		Code:    ErrCodePreviewReadOnly,
		Message: fmt.Sprintf("%s is not allowed while previewing a snapshot", command),
	}
}

// NewNotFoundError creates a CanvasError for a missing block or link.
func NewNotFoundError(kind, id string) *CanvasError {
	return &CanvasError{
		Code:    ErrCodeNotFound,
		Message: kind + " not found",
		ID:      id,
	}
}

// NewInvalidError creates a CanvasError for an invariant violation.
func NewInvalidError(id, message string) *CanvasError {
	return &CanvasError{
		Code:    ErrCodeInvalidCommand,
		Message: message,
		ID:      id,
	}
}

// NewTransactionError wraps a replicated document failure.
func NewTransactionError(command string, err error) *CanvasError {
	return &CanvasError{
		Code:    ErrCodeTransaction,
		Message: command + " transaction failed",
		Err:     err,
	}
}

// IsInvalidError returns true if err is an invalid-command CanvasError.
func IsInvalidError(err error) bool {
	return hasCode(err, ErrCodeInvalidCommand)
}
