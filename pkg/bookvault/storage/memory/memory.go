// Package memory provides an in-memory blob store, primarily for tests.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bookvault/bookvault/pkg/bookvault"
)

// Backend is an in-memory implementation of the bookvault.BlobStore interface.
type Backend struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	mimeType map[string]string

	// signSeq stamps each signed URL so re-signing is observable.
	signSeq atomic.Int64
}

// New creates a new in-memory storage backend.
func New() *Backend {
	return &Backend{
		objects:  make(map[string][]byte),
		mimeType: make(map[string]string),
	}
}

// Upload stores content directly.
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader, opts bookvault.UploadOptions) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[objectKey] = data
	if opts.ContentType != "" {
		b.mimeType[objectKey] = opts.ContentType
	} else if _, exists := b.mimeType[objectKey]; !exists {
		b.mimeType[objectKey] = "application/octet-stream"
	}
	return nil
}

// Download returns the stored content.
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[objectKey]
	if !exists {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the stored content.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[objectKey]; !exists {
		return errors.New("object not found")
	}
	delete(b.objects, objectKey)
	delete(b.mimeType, objectKey)
	return nil
}

// SignURL returns a synthetic signed URL. Each call carries a fresh sequence
// token so callers can distinguish a cached URL from a re-signed one.
func (b *Backend) SignURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	b.mu.RLock()
	_, exists := b.objects[objectKey]
	b.mu.RUnlock()
	if !exists {
		return "", errors.New("object not found")
	}

	seq := b.signSeq.Add(1)
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s?sig=%d&expires=%d", objectKey, seq, expires), nil
}

// GetObjectMeta retrieves metadata for a stored object.
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*bookvault.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[objectKey]
	if !exists {
		return nil, errors.New("object not found")
	}

	mimeType := b.mimeType[objectKey]
	return &bookvault.ObjectMeta{
		Key:         objectKey,
		Size:        int64(len(data)),
		ContentType: mimeType,
		Metadata:    map[string]string{"content_type": mimeType},
	}, nil
}
