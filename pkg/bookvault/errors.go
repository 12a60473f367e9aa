package bookvault

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrBookNotFound indicates a book record was not found
	ErrBookNotFound = errors.New("book not found")

	// ErrUnsupportedFormat indicates the file extension is not one of the
	// supported book formats
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrInvalidFile indicates the file failed structural validation
	ErrInvalidFile = errors.New("invalid file")

	// ErrQuotaExceeded indicates the upload would exceed the user's storage quota
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrStorageUnavailable indicates a blob store I/O failure
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrCacheSigningFailed indicates the blob store failed to sign a URL
	ErrCacheSigningFailed = errors.New("url signing failed")

	// ErrCoverNotReady indicates a cover thumbnail has not been generated yet
	ErrCoverNotReady = errors.New("cover not generated yet")
)

// GenerationReason categorizes cover generation failures for logging and
// telemetry.
type GenerationReason string

// Generation failure reasons.
const (
	ReasonTimeout           GenerationReason = "timeout"
	ReasonMissingOutput     GenerationReason = "missing-output"
	ReasonHelperExit        GenerationReason = "helper-exit-nonzero"
	ReasonUnsupportedFormat GenerationReason = "unsupported-format"
	ReasonStorage           GenerationReason = "storage"
)

// GenerationError represents a failed cover generation attempt. All failure
// modes of the generator surface as this single type; Reason carries the
// sub-cause.
type GenerationError struct {
	BookID uuid.UUID
	Reason GenerationReason
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("cover generation failed for book %s (%s): %v", e.BookID, e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// BookError represents an error related to a book operation.
type BookError struct {
	BookID uuid.UUID
	Op     string
	Err    error
}

func (e *BookError) Error() string {
	return fmt.Sprintf("book operation %s failed for book %s: %v", e.Op, e.BookID, e.Err)
}

func (e *BookError) Unwrap() error {
	return e.Err
}
