package bookvault

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const validationSampleSize = 8 * 1024

var pdfMagic = []byte("%PDF-")

// FormatFromFileName determines the declared book format from the file
// extension. Only the closed set of supported formats is accepted.
func FormatFromFileName(name string) (BookFormat, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		return FormatPDF, nil
	case ".epub":
		return FormatEPUB, nil
	case ".txt":
		return FormatTXT, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ValidateFile runs the format-specific structural check for the given
// buffer. It returns an error wrapping ErrInvalidFile when the content does
// not match its declared format.
func ValidateFile(format BookFormat, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidFile)
	}
	switch format {
	case FormatPDF:
		return validatePDF(data)
	case FormatEPUB:
		return validateEPUB(data)
	case FormatTXT:
		return validateTXT(data)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// SanitizeFileName strips path components and replaces control or non-ASCII
// runes so the stored name is safe in blob metadata, logs and URLs.
func SanitizeFileName(name string) string {
	name = filepath.Base(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 128 && r >= 0x20 && r != '/' && r != '\\':
			b.WriteRune(r)
		case r >= 128:
			b.WriteRune('-')
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" || out == "." || out == ".." {
		return "upload"
	}
	return out
}

func validatePDF(data []byte) error {
	if !bytes.HasPrefix(data, pdfMagic) {
		return fmt.Errorf("%w: missing PDF header", ErrInvalidFile)
	}
	return nil
}

// validateEPUB checks that the buffer is a readable zip container holding
// the OCF container descriptor every EPUB must carry.
func validateEPUB(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: not a zip container: %v", ErrInvalidFile, err)
	}

	for _, f := range zr.File {
		if f.Name == "META-INF/container.xml" {
			return nil
		}
	}
	return fmt.Errorf("%w: missing META-INF/container.xml", ErrInvalidFile)
}

// validateTXT samples the head of the buffer and rejects content that is not
// plausible UTF-8 text.
func validateTXT(data []byte) error {
	sample := data
	if len(sample) > validationSampleSize {
		sample = sample[:validationSampleSize]
		// Back off to a rune boundary so a split multi-byte sequence at the
		// sample edge is not misread as corruption.
		for len(sample) > 0 && !utf8.RuneStart(sample[len(sample)-1]) {
			sample = sample[:len(sample)-1]
		}
		if len(sample) > 0 && sample[len(sample)-1] >= utf8.RuneSelf {
			sample = sample[:len(sample)-1]
		}
	}

	if bytes.IndexByte(sample, 0x00) >= 0 {
		return fmt.Errorf("%w: binary content in text file", ErrInvalidFile)
	}
	if !utf8.Valid(sample) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidFile)
	}
	return nil
}
