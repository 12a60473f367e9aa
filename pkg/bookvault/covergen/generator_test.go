package covergen_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookvault/bookvault/pkg/bookvault"
	"github.com/bookvault/bookvault/pkg/bookvault/covergen"
	memorystorage "github.com/bookvault/bookvault/pkg/bookvault/storage/memory"
)

// writeHelper installs a shell script standing in for the rendering helper.
func writeHelper(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "helper.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// pngFixture writes a small PNG the helper scripts can copy as their output.
func pngFixture(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 18))
	for y := 0; y < 18; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 20), G: uint8(y * 12), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, "fixture.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

type testSetup struct {
	gen     *covergen.Generator
	store   *memorystorage.Backend
	scratch string
}

func newSetup(t *testing.T, helperBody string, cfg covergen.Config) *testSetup {
	t.Helper()
	dir := t.TempDir()
	scratch := t.TempDir()

	cfg.HelperPath = writeHelper(t, dir, helperBody)
	cfg.ScratchDir = scratch

	store := memorystorage.New()
	gen, err := covergen.New(store, cfg, nil)
	require.NoError(t, err)

	return &testSetup{gen: gen, store: store, scratch: scratch}
}

// assertScratchEmpty verifies no per-job files survived the call.
func (s *testSetup) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(s.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files leaked")
}

func TestGenerateHappyPath(t *testing.T) {
	fixture := pngFixture(t, t.TempDir())
	body := fmt.Sprintf(`out="${1%%.*}.png"
cp %q "$out"
echo "Done, your cover photo has been saved as $out"`, fixture)
	s := newSetup(t, body, covergen.Config{})

	bookID := uuid.New()
	thumbKey, err := s.gen.Generate(context.Background(), bookID, bookvault.FormatPDF, []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, bookvault.ThumbnailKey(bookID), thumbKey)

	ctx := context.Background()

	// Full-size cover stored as-is.
	meta, err := s.store.GetObjectMeta(ctx, bookvault.CoverKey(bookID))
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.ContentType)

	// Thumbnail is a JPEG on the configured canvas.
	rc, err := s.store.Download(ctx, thumbKey)
	require.NoError(t, err)
	defer rc.Close()
	img, kind, err := image.Decode(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", kind)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 450, img.Bounds().Dy())

	s.assertScratchEmpty(t)
}

func TestGenerateParsesBarePathLine(t *testing.T) {
	fixture := pngFixture(t, t.TempDir())
	body := fmt.Sprintf(`out="${1%%.*}.png"
cp %q "$out"
echo "$out"`, fixture)
	s := newSetup(t, body, covergen.Config{})

	_, err := s.gen.Generate(context.Background(), uuid.New(), bookvault.FormatEPUB, []byte("zip"))
	require.NoError(t, err)
	s.assertScratchEmpty(t)
}

func TestGenerateFallsBackToDeterministicOutput(t *testing.T) {
	// The helper writes the image but prints nothing useful.
	fixture := pngFixture(t, t.TempDir())
	body := fmt.Sprintf(`cp %q "${1%%.*}.png"
echo "rendering complete"`, fixture)
	s := newSetup(t, body, covergen.Config{})

	_, err := s.gen.Generate(context.Background(), uuid.New(), bookvault.FormatTXT, []byte("text"))
	require.NoError(t, err)
	s.assertScratchEmpty(t)
}

func TestGenerateHelperExitNonzero(t *testing.T) {
	s := newSetup(t, `echo "render failed: no extractable page" >&2
exit 3`, covergen.Config{})

	_, err := s.gen.Generate(context.Background(), uuid.New(), bookvault.FormatPDF, []byte("%PDF-1.7"))

	var genErr *bookvault.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, bookvault.ReasonHelperExit, genErr.Reason)
	assert.Contains(t, genErr.Error(), "no extractable page")
	s.assertScratchEmpty(t)
}

func TestGenerateTimeout(t *testing.T) {
	s := newSetup(t, `sleep 5`, covergen.Config{Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := s.gen.Generate(context.Background(), uuid.New(), bookvault.FormatPDF, []byte("%PDF-1.7"))
	assert.Less(t, time.Since(start), 3*time.Second, "timeout did not cut the helper short")

	var genErr *bookvault.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, bookvault.ReasonTimeout, genErr.Reason)
	s.assertScratchEmpty(t)
}

func TestGenerateMissingOutput(t *testing.T) {
	s := newSetup(t, `echo "Done, your cover photo has been saved as /nonexistent/cover.png"`, covergen.Config{})

	_, err := s.gen.Generate(context.Background(), uuid.New(), bookvault.FormatPDF, []byte("%PDF-1.7"))

	var genErr *bookvault.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, bookvault.ReasonMissingOutput, genErr.Reason)
	s.assertScratchEmpty(t)
}

func TestGenerateOutputTooLarge(t *testing.T) {
	body := `out="${1%.*}.png"
dd if=/dev/zero of="$out" bs=1024 count=64 2>/dev/null
echo "Done, your cover photo has been saved as $out"`
	s := newSetup(t, body, covergen.Config{MaxOutputBytes: 1024})

	_, err := s.gen.Generate(context.Background(), uuid.New(), bookvault.FormatPDF, []byte("%PDF-1.7"))

	var genErr *bookvault.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, bookvault.ReasonMissingOutput, genErr.Reason)
	s.assertScratchEmpty(t)
}

func TestGenerateRejectsUnknownFormat(t *testing.T) {
	s := newSetup(t, `exit 0`, covergen.Config{})

	_, err := s.gen.Generate(context.Background(), uuid.New(), bookvault.BookFormat("mobi"), []byte("data"))

	var genErr *bookvault.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, bookvault.ReasonUnsupportedFormat, genErr.Reason)
}

func TestGenerateScrubsEnvironment(t *testing.T) {
	t.Setenv("BOOKVAULT_TEST_SECRET", "hunter2")

	fixture := pngFixture(t, t.TempDir())
	// The helper fails loudly if it can see the caller's environment.
	body := fmt.Sprintf(`if [ -n "$BOOKVAULT_TEST_SECRET" ]; then
  echo "environment leaked" >&2
  exit 7
fi
out="${1%%.*}.png"
cp %q "$out"
echo "Done, your cover photo has been saved as $out"`, fixture)
	s := newSetup(t, body, covergen.Config{})

	_, err := s.gen.Generate(context.Background(), uuid.New(), bookvault.FormatPDF, []byte("%PDF-1.7"))
	require.NoError(t, err)
}

func TestGenerateHandlesRawBytesSuffix(t *testing.T) {
	fixture := pngFixture(t, t.TempDir())
	body := fmt.Sprintf(`out="${1%%.*}.png"
cp %q "$out"
echo "Done, your cover photo has been saved as $out (raw bytes)"`, fixture)
	s := newSetup(t, body, covergen.Config{})

	_, err := s.gen.Generate(context.Background(), uuid.New(), bookvault.FormatPDF, []byte("%PDF-1.7"))
	require.NoError(t, err)
	s.assertScratchEmpty(t)
}
