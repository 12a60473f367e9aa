package bookvault

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the main interface for the bookvault library.
type Service interface {
	// UploadBook validates, persists and stores an uploaded book file, and
	// attempts synchronous cover generation for small files. Large files and
	// failed synchronous attempts are handed to the background job queue;
	// the result reports CoverGenerating=true in that case.
	UploadBook(ctx context.Context, req UploadBookRequest) (*UploadBookResult, error)

	// GetBook returns a book by id.
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)

	// ListBooks returns the caller's library.
	ListBooks(ctx context.Context, req ListBooksRequest) ([]*Book, error)

	// UpdateBook updates mutable book details.
	UpdateBook(ctx context.Context, req UpdateBookRequest) (*Book, error)

	// DeleteBook removes a book record and its stored blobs, releasing the
	// owner's quota usage.
	DeleteBook(ctx context.Context, id uuid.UUID) error

	// RegenerateCover re-enqueues cover generation for a book whose
	// derivative is missing or stale.
	RegenerateCover(ctx context.Context, id uuid.UUID) error

	// GetDownloadURL returns a readable URL for the book's source file.
	GetDownloadURL(ctx context.Context, id uuid.UUID) (string, error)

	// GetCoverURL returns a readable URL for the book's cover thumbnail, or
	// ErrCoverNotReady when no thumbnail has been generated.
	GetCoverURL(ctx context.Context, id uuid.UUID) (string, error)

	// GetStorageUsage returns the owner's cumulative stored bytes.
	GetStorageUsage(ctx context.Context, ownerID uuid.UUID) (int64, error)
}
