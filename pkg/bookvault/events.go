package bookvault

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink, useful when
// no event handling is needed or for testing.
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink.
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) BookCreated(ctx context.Context, book *Book) error { return nil }

func (n *NoopEventSink) CoverGenerated(ctx context.Context, bookID uuid.UUID, thumbnailKey string) error {
	return nil
}

func (n *NoopEventSink) BookDeleted(ctx context.Context, bookID uuid.UUID) error { return nil }

// LogEventSink writes domain events to a structured logger.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink that logs every event.
func NewLogEventSink(logger *slog.Logger) EventSink {
	return &LogEventSink{logger: logger}
}

func (l *LogEventSink) BookCreated(ctx context.Context, book *Book) error {
	l.logger.Info("book created",
		"book_id", book.ID,
		"owner_id", book.OwnerID,
		"format", book.Format,
		"size_bytes", book.SizeBytes)
	return nil
}

func (l *LogEventSink) CoverGenerated(ctx context.Context, bookID uuid.UUID, thumbnailKey string) error {
	l.logger.Info("cover generated", "book_id", bookID, "thumbnail_key", thumbnailKey)
	return nil
}

func (l *LogEventSink) BookDeleted(ctx context.Context, bookID uuid.UUID) error {
	l.logger.Info("book deleted", "book_id", bookID)
	return nil
}
