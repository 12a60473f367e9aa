package bookvault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Default upload limits.
const (
	DefaultMaxFileBytes       = 100 * 1024 * 1024      // hard ceiling per file
	DefaultSyncThresholdBytes = 30 * 1024 * 1024       // sync cover attempt below this
	DefaultQuotaBytes         = 5 * 1024 * 1024 * 1024 // per-user storage quota
)

// Limits bounds upload size and storage usage.
type Limits struct {
	MaxFileBytes       int64
	SyncThresholdBytes int64
	QuotaBytes         int64
}

// DefaultLimits returns the stock upload limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes:       DefaultMaxFileBytes,
		SyncThresholdBytes: DefaultSyncThresholdBytes,
		QuotaBytes:         DefaultQuotaBytes,
	}
}

// service implements the Service interface.
type service struct {
	repo      Repository
	blobs     BlobStore
	generator CoverGenerator
	queue     JobQueue
	urls      URLProvider
	events    EventSink
	logger    *slog.Logger
	limits    Limits
}

// Option represents a functional option for configuring the service.
type Option func(*service)

// WithRepository sets the record store for the service.
func WithRepository(repo Repository) Option {
	return func(s *service) { s.repo = repo }
}

// WithBlobStore sets the blob storage backend.
func WithBlobStore(store BlobStore) Option {
	return func(s *service) { s.blobs = store }
}

// WithCoverGenerator sets the generator used for synchronous cover attempts.
func WithCoverGenerator(gen CoverGenerator) Option {
	return func(s *service) { s.generator = gen }
}

// WithJobQueue sets the background queue for asynchronous cover generation.
func WithJobQueue(queue JobQueue) Option {
	return func(s *service) { s.queue = queue }
}

// WithURLProvider sets the provider used to hand out readable blob URLs.
func WithURLProvider(urls URLProvider) Option {
	return func(s *service) { s.urls = urls }
}

// WithEventSink sets the event sink for the service.
func WithEventSink(sink EventSink) Option {
	return func(s *service) { s.events = sink }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// WithLimits overrides the default upload limits.
func WithLimits(limits Limits) Option {
	return func(s *service) { s.limits = limits }
}

// New creates a new service instance with the given options.
func New(options ...Option) (Service, error) {
	s := &service{
		events: NewNoopEventSink(),
		logger: slog.Default(),
		limits: DefaultLimits(),
	}

	for _, option := range options {
		option(s)
	}

	if s.repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}

	return s, nil
}

func (s *service) UploadBook(ctx context.Context, req UploadBookRequest) (*UploadBookResult, error) {
	fileName := SanitizeFileName(req.FileName)
	format, err := FormatFromFileName(fileName)
	if err != nil {
		return nil, err
	}

	size := req.Size
	if size == 0 {
		size = int64(len(req.Data))
	}
	if size > s.limits.MaxFileBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d byte ceiling", ErrInvalidFile, size, s.limits.MaxFileBytes)
	}
	if err := ValidateFile(format, req.Data); err != nil {
		return nil, err
	}

	// Cheap pre-check; the authoritative guard is the atomic increment in
	// CreateBook.
	usage, err := s.repo.GetStorageUsage(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("read storage usage: %w", err)
	}
	if usage+size > s.limits.QuotaBytes {
		return nil, fmt.Errorf("%w: %d of %d bytes used", ErrQuotaExceeded, usage, s.limits.QuotaBytes)
	}

	md := ExtractMetadata(format, fileName, req.Data)

	bookID := uuid.New()
	blobKey := SourceKey(bookID, format)
	opts := UploadOptions{
		ContentType: contentTypeFor(format),
		Metadata:    map[string]string{"file_name": fileName},
	}
	if err := s.blobs.Upload(ctx, blobKey, bytes.NewReader(req.Data), opts); err != nil {
		return nil, fmt.Errorf("%w: source upload: %v", ErrStorageUnavailable, err)
	}

	now := time.Now().UTC()
	book := &Book{
		ID:        bookID,
		OwnerID:   req.OwnerID,
		FileName:  fileName,
		Format:    format,
		SizeBytes: size,
		BlobKey:   blobKey,
		Title:     md.Title,
		Author:    md.Author,
		PageCount: md.PageCount,
		Language:  md.Language,
		Status:    BookStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateBook(ctx, book, s.limits.QuotaBytes); err != nil {
		// The source blob must not outlive a failed create.
		if delErr := s.blobs.Delete(ctx, blobKey); delErr != nil {
			s.logger.Warn("orphaned source blob after failed create",
				"book_id", bookID, "blob_key", blobKey, "error", delErr)
		}
		return nil, err
	}

	if err := s.events.BookCreated(ctx, book); err != nil {
		s.logger.Warn("book created event failed", "book_id", bookID, "error", err)
	}

	generating := s.attachCover(ctx, book, req.Data)
	return &UploadBookResult{Book: book, CoverGenerating: generating}, nil
}

// attachCover attempts synchronous generation for small files and falls back
// to the background queue. It reports whether generation is still pending.
func (s *service) attachCover(ctx context.Context, book *Book, data []byte) bool {
	if s.generator != nil && book.SizeBytes < s.limits.SyncThresholdBytes {
		thumbKey, err := s.generator.Generate(ctx, book.ID, book.Format, data)
		if err == nil {
			book.ThumbnailKey = &thumbKey
			book.Status = BookStatusReady
			book.UpdatedAt = time.Now().UTC()
			if err := s.repo.UpdateBook(ctx, book); err == nil {
				if err := s.events.CoverGenerated(ctx, book.ID, thumbKey); err != nil {
					s.logger.Warn("cover generated event failed", "book_id", book.ID, "error", err)
				}
				return false
			}
			s.logger.Error("attach thumbnail key failed, deferring to queue", "book_id", book.ID)
			book.ThumbnailKey = nil
			book.Status = BookStatusCreated
		} else {
			s.logger.Warn("synchronous cover generation failed, deferring to queue",
				"book_id", book.ID, "error", err)
		}
	}

	if s.queue == nil {
		s.logger.Warn("no job queue configured; book left without cover", "book_id", book.ID)
		return false
	}
	s.queue.Enqueue(book.ID, book.OwnerID, book.Format, data)
	return true
}

func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return s.repo.GetBook(ctx, id)
}

func (s *service) ListBooks(ctx context.Context, req ListBooksRequest) ([]*Book, error) {
	return s.repo.ListBooks(ctx, req.OwnerID)
}

func (s *service) UpdateBook(ctx context.Context, req UpdateBookRequest) (*Book, error) {
	book, err := s.repo.GetBook(ctx, req.BookID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		book.Title = *req.Title
	}
	if req.Author != nil {
		book.Author = *req.Author
	}
	book.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateBook(ctx, book); err != nil {
		return nil, &BookError{BookID: book.ID, Op: "update", Err: err}
	}
	return book, nil
}

func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	book, err := s.repo.GetBook(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteBook(ctx, id); err != nil {
		return &BookError{BookID: id, Op: "delete", Err: err}
	}

	// Blob removal is best effort; the record is already gone.
	keys := []string{book.BlobKey, CoverKey(id)}
	if book.ThumbnailKey != nil {
		keys = append(keys, *book.ThumbnailKey)
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("delete blob failed", "book_id", id, "blob_key", key, "error", err)
		}
	}

	if err := s.events.BookDeleted(ctx, id); err != nil {
		s.logger.Warn("book deleted event failed", "book_id", id, "error", err)
	}
	return nil
}

func (s *service) RegenerateCover(ctx context.Context, id uuid.UUID) error {
	if s.queue == nil {
		return fmt.Errorf("no job queue configured")
	}

	book, err := s.repo.GetBook(ctx, id)
	if err != nil {
		return err
	}

	rc, err := s.blobs.Download(ctx, book.BlobKey)
	if err != nil {
		return fmt.Errorf("%w: fetch source: %v", ErrStorageUnavailable, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("%w: read source: %v", ErrStorageUnavailable, err)
	}

	s.queue.Enqueue(book.ID, book.OwnerID, book.Format, data)
	return nil
}

func (s *service) GetDownloadURL(ctx context.Context, id uuid.UUID) (string, error) {
	book, err := s.repo.GetBook(ctx, id)
	if err != nil {
		return "", err
	}
	return s.urlFor(ctx, book.BlobKey), nil
}

func (s *service) GetCoverURL(ctx context.Context, id uuid.UUID) (string, error) {
	book, err := s.repo.GetBook(ctx, id)
	if err != nil {
		return "", err
	}
	if book.ThumbnailKey == nil {
		return "", fmt.Errorf("%w: book %s", ErrCoverNotReady, id)
	}
	return s.urlFor(ctx, *book.ThumbnailKey), nil
}

func (s *service) GetStorageUsage(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	return s.repo.GetStorageUsage(ctx, ownerID)
}

// urlFor resolves a readable URL for key, falling back to the raw blob key
// when signing is unavailable.
func (s *service) urlFor(ctx context.Context, key string) string {
	if s.urls == nil {
		return key
	}
	url, err := s.urls.GetURL(ctx, key)
	if err != nil {
		s.logger.Warn("url signing failed, falling back to blob key", "blob_key", key, "error", err)
		return key
	}
	return url
}

func contentTypeFor(format BookFormat) string {
	switch format {
	case FormatPDF:
		return "application/pdf"
	case FormatEPUB:
		return "application/epub+zip"
	case FormatTXT:
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
