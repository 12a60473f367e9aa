// Package covergen renders cover images for uploaded books by driving an
// external, sandboxed helper process, and publishes the resulting full-size
// image and thumbnail to blob storage.
package covergen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"

	"github.com/bookvault/bookvault/pkg/bookvault"
)

// Config options for the cover generator.
type Config struct {
	HelperPath     string        // path to the rendering helper binary
	ScratchDir     string        // scratch area for per-job temp files (default: os.TempDir())
	Timeout        time.Duration // hard wall-clock limit per helper run (default: 45s)
	MaxOutputBytes int64         // cap on the helper's output image size (default: 20 MiB)
	ThumbWidth     int           // thumbnail canvas width (default: 300)
	ThumbHeight    int           // thumbnail canvas height (default: 450)
	JPEGQuality    int           // thumbnail encoding quality (default: 80)
}

func (c *Config) applyDefaults() {
	if c.ScratchDir == "" {
		c.ScratchDir = os.TempDir()
	}
	if c.Timeout == 0 {
		c.Timeout = 45 * time.Second
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = 20 * 1024 * 1024
	}
	if c.ThumbWidth == 0 {
		c.ThumbWidth = 300
	}
	if c.ThumbHeight == 0 {
		c.ThumbHeight = 450
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = 80
	}
}

// Generator implements bookvault.CoverGenerator using an external rendering
// helper process.
type Generator struct {
	blobs  bookvault.BlobStore
	cfg    Config
	logger *slog.Logger
}

// New creates a cover generator. The helper path must be set.
func New(blobs bookvault.BlobStore, cfg Config, logger *slog.Logger) (*Generator, error) {
	if cfg.HelperPath == "" {
		return nil, errors.New("helper path is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{blobs: blobs, cfg: cfg, logger: logger}, nil
}

// Generate renders the cover for the given source buffer, uploads the
// full-size image and a thumbnail, and returns the thumbnail blob key.
// Scratch files are removed on every exit path. All failures surface as
// *bookvault.GenerationError; retry policy belongs to the caller.
func (g *Generator) Generate(ctx context.Context, bookID uuid.UUID, format bookvault.BookFormat, data []byte) (string, error) {
	switch format {
	case bookvault.FormatPDF, bookvault.FormatEPUB, bookvault.FormatTXT:
	default:
		return "", g.fail(bookID, bookvault.ReasonUnsupportedFormat, fmt.Errorf("format %q", format))
	}

	scratchPath, err := g.writeScratch(format, data)
	if err != nil {
		return "", g.fail(bookID, bookvault.ReasonMissingOutput, fmt.Errorf("write scratch file: %w", err))
	}
	defer os.Remove(scratchPath)

	// The helper writes its image next to the scratch file; remove whatever
	// it produced regardless of how this call exits.
	fallbackPath := outputPathFor(scratchPath)
	defer os.Remove(fallbackPath)

	stdout, err := g.runHelper(ctx, scratchPath, format)
	if err != nil {
		reason := bookvault.ReasonHelperExit
		if errors.Is(err, context.DeadlineExceeded) {
			reason = bookvault.ReasonTimeout
		}
		return "", g.fail(bookID, reason, err)
	}

	outPath := parseOutputPath(stdout, fallbackPath)
	if outPath != fallbackPath {
		defer os.Remove(outPath)
	}

	imgData, err := g.readOutput(outPath)
	if err != nil {
		return "", g.fail(bookID, bookvault.ReasonMissingOutput, err)
	}

	// Sniff the real image type; the helper's extension is not trusted.
	img, kind, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return "", g.fail(bookID, bookvault.ReasonMissingOutput, fmt.Errorf("decode output image: %w", err))
	}

	coverKey := bookvault.CoverKey(bookID)
	err = g.blobs.Upload(ctx, coverKey, bytes.NewReader(imgData), bookvault.UploadOptions{
		ContentType: "image/" + kind,
	})
	if err != nil {
		return "", g.fail(bookID, bookvault.ReasonStorage, fmt.Errorf("upload cover: %w", err))
	}

	thumbData, err := encodeThumbnail(img, g.cfg.ThumbWidth, g.cfg.ThumbHeight, g.cfg.JPEGQuality)
	if err != nil {
		return "", g.fail(bookID, bookvault.ReasonMissingOutput, fmt.Errorf("encode thumbnail: %w", err))
	}

	thumbKey := bookvault.ThumbnailKey(bookID)
	err = g.blobs.Upload(ctx, thumbKey, bytes.NewReader(thumbData), bookvault.UploadOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return "", g.fail(bookID, bookvault.ReasonStorage, fmt.Errorf("upload thumbnail: %w", err))
	}

	return thumbKey, nil
}

func (g *Generator) fail(bookID uuid.UUID, reason bookvault.GenerationReason, err error) error {
	return &bookvault.GenerationError{BookID: bookID, Reason: reason, Err: err}
}

// writeScratch stores the source buffer under a unique name so concurrent
// jobs never collide on temp paths.
func (g *Generator) writeScratch(format bookvault.BookFormat, data []byte) (string, error) {
	f, err := os.CreateTemp(g.cfg.ScratchDir, "cover-*."+string(format))
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// runHelper executes the rendering helper under a wall-clock timeout with a
// fixed argument template and a scrubbed environment.
func (g *Generator) runHelper(ctx context.Context, scratchPath string, format bookvault.BookFormat) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, g.cfg.HelperPath, scratchPath, "--type", string(format))
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"LC_ALL=C.UTF-8",
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return "", fmt.Errorf("helper timed out after %s: %w", g.cfg.Timeout, context.DeadlineExceeded)
		}
		return "", fmt.Errorf("helper exited: %w (stderr: %s)", err, firstLine(stderr.String()))
	}
	return stdout.String(), nil
}

func (g *Generator) readOutput(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("helper output missing: %w", err)
	}
	if info.Size() > g.cfg.MaxOutputBytes {
		return nil, fmt.Errorf("helper output %d bytes exceeds %d byte cap", info.Size(), g.cfg.MaxOutputBytes)
	}
	return os.ReadFile(path)
}

// outputPathFor returns the deterministic path the helper writes when its
// completion line cannot be parsed: the scratch file's stem plus ".png".
func outputPathFor(scratchPath string) string {
	return strings.TrimSuffix(scratchPath, filepath.Ext(scratchPath)) + ".png"
}

const completionMarker = "saved as "

// parseOutputPath locates the produced image path in the helper's stdout.
// The helper prints a human-readable completion line of the form
// "Done, your cover photo has been saved as <path>"; some code paths also
// print the bare path on its own line. Anything unrecognizable falls back to
// the deterministic output path.
func parseOutputPath(stdout, fallback string) string {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.LastIndex(line, completionMarker); idx >= 0 {
			candidate := strings.TrimSpace(line[idx+len(completionMarker):])
			candidate = strings.TrimSuffix(candidate, "(raw bytes)")
			candidate = strings.TrimSpace(candidate)
			if candidate != "" {
				return candidate
			}
		}
		if isImagePath(line) {
			return line
		}
	}
	return fallback
}

func isImagePath(line string) bool {
	if line == "" || strings.ContainsAny(line, " \t") {
		return false
	}
	switch strings.ToLower(filepath.Ext(line)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".img":
		return true
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
