package bookvault

import "github.com/google/uuid"

// Request/Response DTOs

// UploadBookRequest contains parameters for uploading a book file.
type UploadBookRequest struct {
	OwnerID  uuid.UUID
	FileName string
	Size     int64
	Data     []byte
}

// UploadBookResult is the outcome of an upload. CoverGenerating is true when
// the thumbnail could not be produced synchronously and a background job was
// enqueued instead.
type UploadBookResult struct {
	Book            *Book
	CoverGenerating bool
}

// UpdateBookRequest contains parameters for updating book details.
type UpdateBookRequest struct {
	BookID uuid.UUID
	Title  *string
	Author *string
}

// ListBooksRequest contains parameters for listing a user's library.
type ListBooksRequest struct {
	OwnerID uuid.UUID
}
