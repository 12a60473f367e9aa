// Package memory provides an in-memory repository, used by tests and the
// zero-configuration development server.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bookvault/bookvault/pkg/bookvault"
)

// Repository implements bookvault.Repository using in-memory storage
type Repository struct {
	mu    sync.RWMutex
	books map[uuid.UUID]*bookvault.Book
	usage map[uuid.UUID]int64 // owner_id -> stored bytes
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		books: make(map[uuid.UUID]*bookvault.Book),
		usage: make(map[uuid.UUID]int64),
	}
}

// CreateBook persists the record and charges the owner's usage counter in one
// step. Nothing is stored when the charge would exceed quotaBytes.
func (r *Repository) CreateBook(ctx context.Context, book *bookvault.Book, quotaBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if quotaBytes > 0 && r.usage[book.OwnerID]+book.SizeBytes > quotaBytes {
		return bookvault.ErrQuotaExceeded
	}

	// Create a copy to avoid external modifications
	bookCopy := *book
	r.books[book.ID] = &bookCopy
	r.usage[book.OwnerID] += book.SizeBytes

	return nil
}

func (r *Repository) GetBook(ctx context.Context, id uuid.UUID) (*bookvault.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	book, exists := r.books[id]
	if !exists || book.DeletedAt != nil {
		return nil, bookvault.ErrBookNotFound
	}

	// Return a copy to prevent external modifications
	bookCopy := *book
	return &bookCopy, nil
}

func (r *Repository) UpdateBook(ctx context.Context, book *bookvault.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.books[book.ID]
	if !exists || existing.DeletedAt != nil {
		return bookvault.ErrBookNotFound
	}

	bookCopy := *book
	r.books[book.ID] = &bookCopy

	return nil
}

// DeleteBook soft-deletes the record and releases its bytes from the owner's
// usage counter.
func (r *Repository) DeleteBook(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, exists := r.books[id]
	if !exists || book.DeletedAt != nil {
		return bookvault.ErrBookNotFound
	}

	now := time.Now()
	book.Status = bookvault.BookStatusDeleted
	book.DeletedAt = &now
	book.UpdatedAt = now

	r.usage[book.OwnerID] -= book.SizeBytes
	if r.usage[book.OwnerID] < 0 {
		r.usage[book.OwnerID] = 0
	}

	return nil
}

func (r *Repository) ListBooks(ctx context.Context, ownerID uuid.UUID) ([]*bookvault.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*bookvault.Book
	for _, book := range r.books {
		if book.OwnerID == ownerID && book.DeletedAt == nil {
			bookCopy := *book
			result = append(result, &bookCopy)
		}
	}

	// Sort by created_at descending
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

func (r *Repository) GetStorageUsage(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.usage[ownerID], nil
}
