// Package jobqueue schedules background cover generation with a hard
// concurrency ceiling and per-book deduplication. The queue is single
// process: each instance enforces its own ceiling.
package jobqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bookvault/bookvault/pkg/bookvault"
)

// Config options for the queue.
type Config struct {
	MaxRunning    int           // concurrency ceiling (default: 5)
	DeferDelay    time.Duration // initial reschedule delay when at the ceiling (default: 5s)
	MaxDeferDelay time.Duration // backoff cap for repeated deferrals (default: 60s)
}

func (c *Config) applyDefaults() {
	if c.MaxRunning == 0 {
		c.MaxRunning = 5
	}
	if c.DeferDelay == 0 {
		c.DeferDelay = 5 * time.Second
	}
	if c.MaxDeferDelay == 0 {
		c.MaxDeferDelay = 60 * time.Second
	}
}

// job is the transient descriptor for one generation attempt. It exists only
// while queued or running and is never persisted.
type job struct {
	bookID     uuid.UUID
	ownerID    uuid.UUID
	format     bookvault.BookFormat
	data       []byte
	enqueuedAt time.Time
}

// Queue implements bookvault.JobQueue.
//
// All transitions on the live-job set and the running count happen under one
// mutex, so two uploads for the same book can never race into duplicate
// generation and admission can never overshoot the ceiling.
type Queue struct {
	cfg       Config
	generator bookvault.CoverGenerator
	repo      bookvault.Repository
	events    bookvault.EventSink
	logger    *slog.Logger

	// onDone, when set, is invoked after a job has fully released its slot.
	// Test observability hook.
	onDone func(bookID uuid.UUID, err error)

	mu      sync.Mutex
	live    map[uuid.UUID]struct{}
	timers  map[uuid.UUID]*time.Timer
	running int
	closed  bool
	wg      sync.WaitGroup
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithEventSink sets the event sink fired on job completion.
func WithEventSink(sink bookvault.EventSink) QueueOption {
	return func(q *Queue) { q.events = sink }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = logger }
}

// WithCompletionFunc registers a callback invoked once per finished job,
// after its concurrency slot has been released.
func WithCompletionFunc(fn func(bookID uuid.UUID, err error)) QueueOption {
	return func(q *Queue) { q.onDone = fn }
}

// New creates a queue that renders covers with generator and records results
// through repo.
func New(generator bookvault.CoverGenerator, repo bookvault.Repository, cfg Config, opts ...QueueOption) *Queue {
	cfg.applyDefaults()
	q := &Queue{
		cfg:       cfg,
		generator: generator,
		repo:      repo,
		events:    bookvault.NewNoopEventSink(),
		logger:    slog.Default(),
		live:      make(map[uuid.UUID]struct{}),
		timers:    make(map[uuid.UUID]*time.Timer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue submits a cover generation job. A job already live for the same
// book id (queued, deferred or running) makes this a silent no-op.
func (q *Queue) Enqueue(bookID, ownerID uuid.UUID, format bookvault.BookFormat, data []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, ok := q.live[bookID]; ok {
		q.mu.Unlock()
		jobsDeduplicated.Inc()
		return
	}
	q.live[bookID] = struct{}{}
	q.mu.Unlock()

	q.admit(job{
		bookID:     bookID,
		ownerID:    ownerID,
		format:     format,
		data:       data,
		enqueuedAt: time.Now().UTC(),
	}, q.cfg.DeferDelay)
}

// Running reports the number of jobs currently executing.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Close stops admission, cancels deferred jobs and waits for running jobs to
// finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
		delete(q.live, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// admit starts the job if a slot is free, otherwise defers it and retries
// after nextDelay, doubling up to the configured cap. Capacity deferrals
// repeat until admitted; the live set bounds the backlog to one deferred job
// per book.
func (q *Queue) admit(j job, nextDelay time.Duration) {
	q.mu.Lock()
	if q.closed {
		delete(q.live, j.bookID)
		q.mu.Unlock()
		return
	}
	if q.running < q.cfg.MaxRunning {
		q.running++
		q.wg.Add(1)
		delete(q.timers, j.bookID)
		q.mu.Unlock()

		jobsRunning.Inc()
		go q.run(j)
		return
	}

	// At the ceiling: reschedule.
	jobsDeferred.Inc()
	delay := nextDelay
	redo := nextDelay * 2
	if redo > q.cfg.MaxDeferDelay {
		redo = q.cfg.MaxDeferDelay
	}
	q.timers[j.bookID] = time.AfterFunc(delay, func() {
		q.admit(j, redo)
	})
	q.mu.Unlock()
}

// run executes one admitted job. The slot release and live-set removal run
// in a deferred cleanup so a panicking generator cannot leak capacity.
func (q *Queue) run(j job) {
	var jobErr error

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("cover job panicked", "book_id", j.bookID, "panic", r)
			jobsFailed.WithLabelValues("panic").Inc()
			jobErr = errors.New("cover job panicked")
		}

		q.mu.Lock()
		q.running--
		delete(q.live, j.bookID)
		q.mu.Unlock()

		jobsRunning.Dec()
		q.wg.Done()

		if q.onDone != nil {
			q.onDone(j.bookID, jobErr)
		}
	}()

	ctx := context.Background()

	thumbKey, err := q.generator.Generate(ctx, j.bookID, j.format, j.data)
	if err != nil {
		jobErr = err
		jobsFailed.WithLabelValues(failureReason(err)).Inc()
		q.logger.Error("cover generation failed",
			"book_id", j.bookID,
			"owner_id", j.ownerID,
			"reason", failureReason(err),
			"error", err)
		return
	}

	if err := q.attachThumbnail(ctx, j.bookID, thumbKey); err != nil {
		jobErr = err
		jobsFailed.WithLabelValues("record-update").Inc()
		q.logger.Error("attach thumbnail failed", "book_id", j.bookID, "error", err)
		return
	}

	jobsCompleted.Inc()
	q.logger.Info("cover generated",
		"book_id", j.bookID,
		"thumbnail_key", thumbKey,
		"queued_for", time.Since(j.enqueuedAt))
}

func (q *Queue) attachThumbnail(ctx context.Context, bookID uuid.UUID, thumbKey string) error {
	book, err := q.repo.GetBook(ctx, bookID)
	if err != nil {
		return err
	}

	book.ThumbnailKey = &thumbKey
	book.Status = bookvault.BookStatusReady
	book.UpdatedAt = time.Now().UTC()
	if err := q.repo.UpdateBook(ctx, book); err != nil {
		return err
	}

	if err := q.events.CoverGenerated(ctx, bookID, thumbKey); err != nil {
		q.logger.Warn("cover generated event failed", "book_id", bookID, "error", err)
	}
	return nil
}

// failureReason maps a generation error to its telemetry category.
func failureReason(err error) string {
	var genErr *bookvault.GenerationError
	if errors.As(err, &genErr) {
		return string(genErr.Reason)
	}
	return "other"
}
