package bookvault_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookvault/bookvault/pkg/bookvault"
	"github.com/bookvault/bookvault/pkg/bookvault/repo/memory"
	memorystorage "github.com/bookvault/bookvault/pkg/bookvault/storage/memory"
)

// stubGenerator returns a fixed thumbnail key or a configured error.
type stubGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *stubGenerator) Generate(ctx context.Context, bookID uuid.UUID, format bookvault.BookFormat, data []byte) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return bookvault.ThumbnailKey(bookID), nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// recordQueue records enqueued book ids instead of running jobs.
type recordQueue struct {
	mu      sync.Mutex
	bookIDs []uuid.UUID
}

func (q *recordQueue) Enqueue(bookID, ownerID uuid.UUID, format bookvault.BookFormat, data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bookIDs = append(q.bookIDs, bookID)
}

func (q *recordQueue) enqueued() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.bookIDs...)
}

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []bookvault.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []bookvault.Option{},
			expectError: true,
		},
		{
			name: "repository alone should fail",
			options: []bookvault.Option{
				bookvault.WithRepository(memory.New()),
			},
			expectError: true,
		},
		{
			name: "repository and blob store should succeed",
			options: []bookvault.Option{
				bookvault.WithRepository(memory.New()),
				bookvault.WithBlobStore(memorystorage.New()),
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := bookvault.New(tt.options...)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

type testEnv struct {
	svc   bookvault.Service
	repo  *memory.Repository
	store *memorystorage.Backend
	gen   *stubGenerator
	queue *recordQueue
}

func setupTestService(t *testing.T, extra ...bookvault.Option) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:  memory.New(),
		store: memorystorage.New(),
		gen:   &stubGenerator{},
		queue: &recordQueue{},
	}

	options := []bookvault.Option{
		bookvault.WithRepository(env.repo),
		bookvault.WithBlobStore(env.store),
		bookvault.WithCoverGenerator(env.gen),
		bookvault.WithJobQueue(env.queue),
	}
	options = append(options, extra...)

	svc, err := bookvault.New(options...)
	require.NoError(t, err)
	env.svc = svc
	return env
}

func uploadTxt(t *testing.T, env *testEnv, ownerID uuid.UUID, name, text string) *bookvault.UploadBookResult {
	t.Helper()
	result, err := env.svc.UploadBook(context.Background(), bookvault.UploadBookRequest{
		OwnerID:  ownerID,
		FileName: name,
		Data:     []byte(text),
	})
	require.NoError(t, err)
	return result
}

func TestUploadBookSynchronousCover(t *testing.T) {
	env := setupTestService(t)
	ownerID := uuid.New()

	result := uploadTxt(t, env, ownerID, "dune.txt", "It is by will alone I set my mind in motion.")

	assert.False(t, result.CoverGenerating)
	require.NotNil(t, result.Book.ThumbnailKey)
	assert.Equal(t, bookvault.ThumbnailKey(result.Book.ID), *result.Book.ThumbnailKey)
	assert.Equal(t, bookvault.BookStatusReady, result.Book.Status)
	assert.Equal(t, 1, env.gen.callCount())
	assert.Empty(t, env.queue.enqueued())

	// The source blob is stored under the deterministic key.
	rc, err := env.store.Download(context.Background(), result.Book.BlobKey)
	require.NoError(t, err)
	rc.Close()

	usage, err := env.svc.GetStorageUsage(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Equal(t, result.Book.SizeBytes, usage)
}

func TestUploadBookOverThresholdGoesToQueue(t *testing.T) {
	limits := bookvault.DefaultLimits()
	limits.SyncThresholdBytes = 8 // force the async path
	env := setupTestService(t, bookvault.WithLimits(limits))

	result := uploadTxt(t, env, uuid.New(), "big.txt", "well past eight bytes of text")

	assert.True(t, result.CoverGenerating)
	assert.Nil(t, result.Book.ThumbnailKey)
	assert.Equal(t, bookvault.BookStatusCreated, result.Book.Status)
	assert.Equal(t, 0, env.gen.callCount())
	assert.Equal(t, []uuid.UUID{result.Book.ID}, env.queue.enqueued())
}

func TestUploadBookSyncFailureFallsBackToQueue(t *testing.T) {
	env := setupTestService(t)
	env.gen.err = errors.New("helper crashed")

	result := uploadTxt(t, env, uuid.New(), "moby.txt", "Call me Ishmael.")

	assert.True(t, result.CoverGenerating)
	assert.Nil(t, result.Book.ThumbnailKey)
	assert.Equal(t, []uuid.UUID{result.Book.ID}, env.queue.enqueued())
}

func TestUploadBookRejectsBadInput(t *testing.T) {
	limits := bookvault.DefaultLimits()
	limits.MaxFileBytes = 64
	env := setupTestService(t, bookvault.WithLimits(limits))
	ctx := context.Background()

	tests := []struct {
		name     string
		fileName string
		data     []byte
		wantErr  error
	}{
		{"unknown extension", "book.mobi", []byte("data"), bookvault.ErrUnsupportedFormat},
		{"no extension", "book", []byte("data"), bookvault.ErrUnsupportedFormat},
		{"empty file", "book.txt", nil, bookvault.ErrInvalidFile},
		{"pdf without header", "book.pdf", []byte("not a pdf"), bookvault.ErrInvalidFile},
		{"epub not a zip", "book.epub", []byte("not a zip"), bookvault.ErrInvalidFile},
		{"txt with NUL bytes", "book.txt", []byte("abc\x00def"), bookvault.ErrInvalidFile},
		{"over the size ceiling", "book.txt", bytes.Repeat([]byte("a"), 65), bookvault.ErrInvalidFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.UploadBook(ctx, bookvault.UploadBookRequest{
				OwnerID:  uuid.New(),
				FileName: tt.fileName,
				Data:     tt.data,
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Nothing was persisted or enqueued for any rejected upload.
	assert.Equal(t, 0, env.gen.callCount())
	assert.Empty(t, env.queue.enqueued())
}

func TestUploadBookQuotaExceeded(t *testing.T) {
	limits := bookvault.DefaultLimits()
	limits.QuotaBytes = 40
	env := setupTestService(t, bookvault.WithLimits(limits))
	ownerID := uuid.New()

	uploadTxt(t, env, ownerID, "first.txt", strings.Repeat("a", 30))

	_, err := env.svc.UploadBook(context.Background(), bookvault.UploadBookRequest{
		OwnerID:  ownerID,
		FileName: "second.txt",
		Data:     []byte(strings.Repeat("b", 30)),
	})
	assert.ErrorIs(t, err, bookvault.ErrQuotaExceeded)

	// A different owner still has room.
	uploadTxt(t, env, uuid.New(), "other.txt", strings.Repeat("c", 30))
}

func TestUploadBookSanitizesFileName(t *testing.T) {
	env := setupTestService(t)

	result := uploadTxt(t, env, uuid.New(), "../naïve\x01 name.txt", "plain text")

	assert.Equal(t, "na-ve name.txt", result.Book.FileName)
}

func TestUploadEPUBExtractsMetadata(t *testing.T) {
	env := setupTestService(t)

	result, err := env.svc.UploadBook(context.Background(), bookvault.UploadBookRequest{
		OwnerID:  uuid.New(),
		FileName: "frankenstein.epub",
		Data:     buildEPUB(t, "Frankenstein", "Mary Shelley", "en", 3),
	})
	require.NoError(t, err)

	assert.Equal(t, "Frankenstein", result.Book.Title)
	assert.Equal(t, "Mary Shelley", result.Book.Author)
	assert.Equal(t, "en", result.Book.Language)
	assert.Equal(t, 3, result.Book.PageCount)
}

func TestDeleteBookReleasesQuotaAndBlobs(t *testing.T) {
	env := setupTestService(t)
	ownerID := uuid.New()
	ctx := context.Background()

	result := uploadTxt(t, env, ownerID, "gone.txt", "soon to be deleted")
	bookID := result.Book.ID

	require.NoError(t, env.svc.DeleteBook(ctx, bookID))

	_, err := env.svc.GetBook(ctx, bookID)
	assert.ErrorIs(t, err, bookvault.ErrBookNotFound)

	_, err = env.store.Download(ctx, result.Book.BlobKey)
	assert.Error(t, err)

	usage, err := env.svc.GetStorageUsage(ctx, ownerID)
	require.NoError(t, err)
	assert.Zero(t, usage)

	assert.ErrorIs(t, env.svc.DeleteBook(ctx, bookID), bookvault.ErrBookNotFound)
}

func TestUpdateBookMetadata(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	result := uploadTxt(t, env, uuid.New(), "draft.txt", "draft content")

	title := "Final Title"
	author := "A. Author"
	updated, err := env.svc.UpdateBook(ctx, bookvault.UpdateBookRequest{
		BookID: result.Book.ID,
		Title:  &title,
		Author: &author,
	})
	require.NoError(t, err)
	assert.Equal(t, "Final Title", updated.Title)
	assert.Equal(t, "A. Author", updated.Author)

	fetched, err := env.svc.GetBook(ctx, result.Book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final Title", fetched.Title)
}

func TestGetCoverURLBeforeGeneration(t *testing.T) {
	limits := bookvault.DefaultLimits()
	limits.SyncThresholdBytes = 1
	env := setupTestService(t, bookvault.WithLimits(limits))

	result := uploadTxt(t, env, uuid.New(), "pending.txt", "cover still pending")

	_, err := env.svc.GetCoverURL(context.Background(), result.Book.ID)
	assert.ErrorIs(t, err, bookvault.ErrCoverNotReady)
}

func TestGetDownloadURLFallsBackToBlobKey(t *testing.T) {
	// No URL provider configured: the raw blob key comes back.
	env := setupTestService(t)

	result := uploadTxt(t, env, uuid.New(), "plain.txt", "some text")

	url, err := env.svc.GetDownloadURL(context.Background(), result.Book.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Book.BlobKey, url)
}

func TestListBooksIsPerOwner(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()

	uploadTxt(t, env, alice, "a1.txt", "first")
	uploadTxt(t, env, alice, "a2.txt", "second")
	uploadTxt(t, env, bob, "b1.txt", "third")

	books, err := env.svc.ListBooks(ctx, bookvault.ListBooksRequest{OwnerID: alice})
	require.NoError(t, err)
	assert.Len(t, books, 2)

	books, err = env.svc.ListBooks(ctx, bookvault.ListBooksRequest{OwnerID: bob})
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

// buildEPUB assembles a minimal OCF container with the given package
// metadata and spine length.
func buildEPUB(t *testing.T, title, author, language string, spine int) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name, content string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	write("mimetype", "application/epub+zip")
	write("META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`)

	var spineItems, manifestItems strings.Builder
	for i := 0; i < spine; i++ {
		fmt.Fprintf(&manifestItems, `<item id="ch%d" href="ch%d.xhtml" media-type="application/xhtml+xml"/>`, i, i)
		fmt.Fprintf(&spineItems, `<itemref idref="ch%d"/>`, i)
		write(fmt.Sprintf("OEBPS/ch%d.xhtml", i), "<html><body/></html>")
	}

	write("OEBPS/content.opf", fmt.Sprintf(`<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" xmlns:dc="http://purl.org/dc/elements/1.1/" version="3.0">
  <metadata>
    <dc:title>%s</dc:title>
    <dc:creator>%s</dc:creator>
    <dc:language>%s</dc:language>
  </metadata>
  <manifest>%s</manifest>
  <spine>%s</spine>
</package>`, title, author, language, manifestItems.String(), spineItems.String()))

	require.NoError(t, zw.Close())
	return buf.Bytes()
}
