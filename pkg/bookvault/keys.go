package bookvault

import (
	"fmt"

	"github.com/google/uuid"
)

// Blob key layout. Keys are deterministic per book so that every derivative
// can be located (and deleted) from the record alone. The full-resolution
// cover carries no extension; its content type is set at upload from image
// sniffing.

// SourceKey returns the blob key for a book's uploaded source file.
func SourceKey(bookID uuid.UUID, format BookFormat) string {
	return fmt.Sprintf("books/%s/source.%s", bookID, format)
}

// CoverKey returns the blob key for a book's full-resolution cover image.
func CoverKey(bookID uuid.UUID) string {
	return fmt.Sprintf("covers/%s/cover", bookID)
}

// ThumbnailKey returns the blob key for a book's cover thumbnail.
func ThumbnailKey(bookID uuid.UUID) string {
	return fmt.Sprintf("covers/%s/thumb.jpg", bookID)
}
