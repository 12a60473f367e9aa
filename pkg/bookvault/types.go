package bookvault

import (
	"time"

	"github.com/google/uuid"
)

// BookFormat is the declared format of an uploaded book file.
type BookFormat string

// Supported book formats (closed set).
const (
	FormatPDF  BookFormat = "pdf"
	FormatEPUB BookFormat = "epub"
	FormatTXT  BookFormat = "txt"
)

// BookStatus is the domain type for book lifecycle states.
type BookStatus string

// Book status constants (typed).
const (
	BookStatusCreated BookStatus = "created"
	BookStatusReady   BookStatus = "ready"
	BookStatusDeleted BookStatus = "deleted"
)

// Book represents an uploaded book file in a user's library.
//
// ThumbnailKey is nil until cover generation has completed. The
// full-resolution cover image is stored under a deterministic sibling key
// (see covergen) and is not persisted on the record.
type Book struct {
	ID           uuid.UUID  `json:"id"`
	OwnerID      uuid.UUID  `json:"owner_id"`
	FileName     string     `json:"file_name"`
	Format       BookFormat `json:"format"`
	SizeBytes    int64      `json:"size_bytes"`
	BlobKey      string     `json:"blob_key"`
	ThumbnailKey *string    `json:"thumbnail_key,omitempty"`
	Title        string     `json:"title"`
	Author       string     `json:"author,omitempty"`
	PageCount    int        `json:"page_count,omitempty"`
	Language     string     `json:"language,omitempty"`
	Status       BookStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// BookMetadata holds lightweight descriptive metadata extracted from an
// uploaded file. Extraction is best-effort: any field may be zero.
type BookMetadata struct {
	Title     string
	Author    string
	PageCount int
	Language  string
}

// ObjectMeta contains metadata about an object in blob storage.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
	Metadata    map[string]string
}

// UploadOptions carries optional parameters for a blob upload.
type UploadOptions struct {
	ContentType string
	Metadata    map[string]string
}
