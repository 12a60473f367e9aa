// Package fs provides a filesystem blob store with HMAC-stamped signed URLs.
package fs

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bookvault/bookvault/pkg/bookvault"
)

// Config options for the filesystem backend.
type Config struct {
	BaseDir   string // Base directory for storing files
	URLPrefix string // URL prefix for signed download URLs
	SecretKey string // HMAC key for stamping signed URLs
}

// Backend is a filesystem implementation of the bookvault.BlobStore interface.
type Backend struct {
	baseDir   string
	urlPrefix string
	secret    []byte
}

// New creates a new filesystem storage backend.
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		baseDir:   config.BaseDir,
		urlPrefix: config.URLPrefix,
		secret:    []byte(config.SecretKey),
	}, nil
}

// Upload stores content on the filesystem.
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader, opts bookvault.UploadOptions) error {
	filePath := filepath.Join(b.baseDir, objectKey)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Download opens the stored file.
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(b.baseDir, objectKey))
	if os.IsNotExist(err) {
		return nil, errors.New("object not found")
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes the stored file and any directories it leaves empty.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	filePath := filepath.Join(b.baseDir, objectKey)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return errors.New("object not found")
	}

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

// SignURL returns a time-limited download URL stamped with an HMAC so the
// serving handler can verify it was issued by this backend.
func (b *Backend) SignURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	if b.urlPrefix == "" {
		return "", errors.New("url prefix is required for signed URLs")
	}

	expires := time.Now().Add(ttl).Unix()
	mac := hmac.New(sha256.New, b.secret)
	fmt.Fprintf(mac, "%s:%d", objectKey, expires)
	sig := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("%s/download/%s?expires=%d&sig=%s", b.urlPrefix, objectKey, expires, sig), nil
}

// VerifySignature checks a signed URL's expiry stamp and HMAC.
func (b *Backend) VerifySignature(objectKey string, expires int64, sig string) bool {
	if time.Now().Unix() >= expires {
		return false
	}
	mac := hmac.New(sha256.New, b.secret)
	fmt.Fprintf(mac, "%s:%d", objectKey, expires)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// GetObjectMeta retrieves metadata for a stored file.
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*bookvault.ObjectMeta, error) {
	filePath := filepath.Join(b.baseDir, objectKey)

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, errors.New("object not found")
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	contentType := "application/octet-stream"
	if file, err := os.Open(filePath); err == nil {
		defer file.Close()
		buffer := make([]byte, 512)
		if n, err := file.Read(buffer); err == nil {
			contentType = http.DetectContentType(buffer[:n])
		}
	}

	return &bookvault.ObjectMeta{
		Key:         objectKey,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
		Metadata:    map[string]string{"content_type": contentType},
	}, nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir.
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
