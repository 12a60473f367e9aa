package bookvault

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for blob storage backends.
type BlobStore interface {
	// Upload stores the content read from reader under objectKey.
	Upload(ctx context.Context, objectKey string, reader io.Reader, opts UploadOptions) error

	// Download returns a reader for the content stored under objectKey.
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete removes the content stored under objectKey.
	Delete(ctx context.Context, objectKey string) error

	// SignURL returns a time-limited read URL for objectKey.
	SignURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)

	// GetObjectMeta retrieves metadata for an object.
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// Repository defines the interface for book record persistence.
type Repository interface {
	// CreateBook persists a new book record and increments the owner's
	// used-storage counter in a single atomic step. It returns
	// ErrQuotaExceeded (and persists nothing) when the increment would push
	// usage past quotaBytes.
	CreateBook(ctx context.Context, book *Book, quotaBytes int64) error

	// GetBook returns a book by id, or ErrBookNotFound.
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)

	// UpdateBook replaces a book record.
	UpdateBook(ctx context.Context, book *Book) error

	// DeleteBook soft-deletes a book and releases its bytes from the owner's
	// used-storage counter.
	DeleteBook(ctx context.Context, id uuid.UUID) error

	// ListBooks returns all live books owned by ownerID.
	ListBooks(ctx context.Context, ownerID uuid.UUID) ([]*Book, error)

	// GetStorageUsage returns the owner's cumulative stored bytes.
	GetStorageUsage(ctx context.Context, ownerID uuid.UUID) (int64, error)
}

// CoverGenerator produces cover images from a source book file.
type CoverGenerator interface {
	// Generate renders the cover for the given source buffer and uploads the
	// full-size image and thumbnail to blob storage. It returns the
	// thumbnail's blob key. Failures are *GenerationError values.
	Generate(ctx context.Context, bookID uuid.UUID, format BookFormat, data []byte) (string, error)
}

// JobQueue schedules background cover generation.
type JobQueue interface {
	// Enqueue submits a cover generation job. It is fire-and-forget: a job
	// already live for the same book id is silently ignored.
	Enqueue(bookID, ownerID uuid.UUID, format BookFormat, data []byte)
}

// URLProvider hands out readable URLs for stored blobs.
type URLProvider interface {
	GetURL(ctx context.Context, objectKey string) (string, error)
}

// EventSink defines the interface for domain event handling.
type EventSink interface {
	// BookCreated is fired after a book record has been persisted.
	BookCreated(ctx context.Context, book *Book) error

	// CoverGenerated is fired after a cover thumbnail has been attached.
	CoverGenerated(ctx context.Context, bookID uuid.UUID, thumbnailKey string) error

	// BookDeleted is fired after a book has been deleted.
	BookDeleted(ctx context.Context, bookID uuid.UUID) error
}
