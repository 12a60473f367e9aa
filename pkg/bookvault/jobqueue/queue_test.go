package jobqueue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookvault/bookvault/pkg/bookvault"
	"github.com/bookvault/bookvault/pkg/bookvault/jobqueue"
	"github.com/bookvault/bookvault/pkg/bookvault/repo/memory"
)

// gateGenerator blocks every Generate call until released and tracks the
// highest concurrency it observed.
type gateGenerator struct {
	release chan struct{}

	mu      sync.Mutex
	active  int
	peak    int
	calls   int
	failAll bool
	panics  bool
}

func newGateGenerator() *gateGenerator {
	return &gateGenerator{release: make(chan struct{})}
}

func (g *gateGenerator) Generate(ctx context.Context, bookID uuid.UUID, format bookvault.BookFormat, data []byte) (string, error) {
	g.mu.Lock()
	g.calls++
	g.active++
	if g.active > g.peak {
		g.peak = g.active
	}
	g.mu.Unlock()

	<-g.release

	g.mu.Lock()
	g.active--
	g.mu.Unlock()

	if g.panics {
		panic("boom")
	}
	if g.failAll {
		return "", &bookvault.GenerationError{BookID: bookID, Reason: bookvault.ReasonHelperExit, Err: errors.New("exit 1")}
	}
	return bookvault.ThumbnailKey(bookID), nil
}

func (g *gateGenerator) stats() (peak, calls int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak, g.calls
}

// completionRecorder collects per-job completion callbacks.
type completionRecorder struct {
	mu   sync.Mutex
	done map[uuid.UUID]error
}

func newCompletionRecorder() *completionRecorder {
	return &completionRecorder{done: make(map[uuid.UUID]error)}
}

func (c *completionRecorder) record(bookID uuid.UUID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[bookID] = err
}

func (c *completionRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.done)
}

func (c *completionRecorder) errFor(bookID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done[bookID]
}

func seedBook(t *testing.T, repo *memory.Repository, bookID uuid.UUID) {
	t.Helper()
	now := time.Now().UTC()
	err := repo.CreateBook(context.Background(), &bookvault.Book{
		ID:        bookID,
		OwnerID:   uuid.New(),
		FileName:  "seed.txt",
		Format:    bookvault.FormatTXT,
		SizeBytes: 10,
		BlobKey:   bookvault.SourceKey(bookID, bookvault.FormatTXT),
		Status:    bookvault.BookStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, 0)
	require.NoError(t, err)
}

func TestQueueEnforcesConcurrencyCeiling(t *testing.T) {
	gen := newGateGenerator()
	repo := memory.New()
	rec := newCompletionRecorder()

	q := jobqueue.New(gen, repo,
		jobqueue.Config{MaxRunning: 5, DeferDelay: 5 * time.Millisecond, MaxDeferDelay: 20 * time.Millisecond},
		jobqueue.WithCompletionFunc(rec.record))
	defer q.Close()

	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
		seedBook(t, repo, ids[i])
		q.Enqueue(ids[i], uuid.New(), bookvault.FormatTXT, []byte("data"))
	}

	// Five jobs run; the rest wait for a slot.
	require.Eventually(t, func() bool { return q.Running() == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, 5, q.Running())

	close(gen.release)

	require.Eventually(t, func() bool { return rec.count() == 10 }, 5*time.Second, 5*time.Millisecond)

	peak, calls := gen.stats()
	assert.LessOrEqual(t, peak, 5, "concurrency ceiling was breached")
	assert.Equal(t, 10, calls)
	assert.Zero(t, q.Running())

	for _, id := range ids {
		assert.NoError(t, rec.errFor(id))
		book, err := repo.GetBook(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, book.ThumbnailKey)
		assert.Equal(t, bookvault.BookStatusReady, book.Status)
	}
}

func TestQueueDeduplicatesByBookID(t *testing.T) {
	gen := newGateGenerator()
	repo := memory.New()
	rec := newCompletionRecorder()

	q := jobqueue.New(gen, repo,
		jobqueue.Config{MaxRunning: 2},
		jobqueue.WithCompletionFunc(rec.record))
	defer q.Close()

	bookID := uuid.New()
	seedBook(t, repo, bookID)

	q.Enqueue(bookID, uuid.New(), bookvault.FormatTXT, []byte("data"))
	require.Eventually(t, func() bool { return q.Running() == 1 }, time.Second, time.Millisecond)

	// Re-submissions while the job is live are silently dropped.
	q.Enqueue(bookID, uuid.New(), bookvault.FormatTXT, []byte("data"))
	q.Enqueue(bookID, uuid.New(), bookvault.FormatTXT, []byte("data"))

	close(gen.release)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	_, calls := gen.stats()
	assert.Equal(t, 1, calls)

	// Once finished, the same book can be enqueued again.
	q.Enqueue(bookID, uuid.New(), bookvault.FormatTXT, []byte("data"))
	require.Eventually(t, func() bool {
		_, calls := gen.stats()
		return calls == 2
	}, time.Second, time.Millisecond)
}

func TestQueueReleasesSlotOnFailure(t *testing.T) {
	gen := newGateGenerator()
	gen.failAll = true
	close(gen.release)
	repo := memory.New()
	rec := newCompletionRecorder()

	q := jobqueue.New(gen, repo,
		jobqueue.Config{MaxRunning: 1},
		jobqueue.WithCompletionFunc(rec.record))
	defer q.Close()

	bookID := uuid.New()
	seedBook(t, repo, bookID)
	q.Enqueue(bookID, uuid.New(), bookvault.FormatTXT, []byte("data"))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	var genErr *bookvault.GenerationError
	require.ErrorAs(t, rec.errFor(bookID), &genErr)
	assert.Equal(t, bookvault.ReasonHelperExit, genErr.Reason)
	assert.Zero(t, q.Running())

	// The record stays untouched on failure.
	book, err := repo.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	assert.Nil(t, book.ThumbnailKey)
	assert.Equal(t, bookvault.BookStatusCreated, book.Status)
}

func TestQueueSurvivesGeneratorPanic(t *testing.T) {
	gen := newGateGenerator()
	gen.panics = true
	close(gen.release)
	repo := memory.New()
	rec := newCompletionRecorder()

	q := jobqueue.New(gen, repo,
		jobqueue.Config{MaxRunning: 1},
		jobqueue.WithCompletionFunc(rec.record))
	defer q.Close()

	bookID := uuid.New()
	seedBook(t, repo, bookID)
	q.Enqueue(bookID, uuid.New(), bookvault.FormatTXT, []byte("data"))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	assert.Error(t, rec.errFor(bookID))
	assert.Zero(t, q.Running())

	// The slot is usable again.
	gen.panics = false
	next := uuid.New()
	seedBook(t, repo, next)
	q.Enqueue(next, uuid.New(), bookvault.FormatTXT, []byte("data"))
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
	assert.NoError(t, rec.errFor(next))
}

func TestQueueCloseStopsAdmission(t *testing.T) {
	gen := newGateGenerator()
	close(gen.release)
	repo := memory.New()
	rec := newCompletionRecorder()

	q := jobqueue.New(gen, repo,
		jobqueue.Config{MaxRunning: 1},
		jobqueue.WithCompletionFunc(rec.record))
	q.Close()

	q.Enqueue(uuid.New(), uuid.New(), bookvault.FormatTXT, []byte("data"))

	time.Sleep(20 * time.Millisecond)
	_, calls := gen.stats()
	assert.Zero(t, calls)
	assert.Zero(t, rec.count())
}
