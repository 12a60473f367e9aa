package bookvault_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bookvault/bookvault/pkg/bookvault"
)

func TestFormatFromFileName(t *testing.T) {
	tests := []struct {
		fileName string
		want     bookvault.BookFormat
		wantErr  bool
	}{
		{"book.pdf", bookvault.FormatPDF, false},
		{"Book.PDF", bookvault.FormatPDF, false},
		{"novel.epub", bookvault.FormatEPUB, false},
		{"notes.txt", bookvault.FormatTXT, false},
		{"comic.cbz", "", true},
		{"archive.tar.gz", "", true},
		{"noextension", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			got, err := bookvault.FormatFromFileName(tt.fileName)
			if tt.wantErr {
				assert.ErrorIs(t, err, bookvault.ErrUnsupportedFormat)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateTXTSampling(t *testing.T) {
	// A multi-byte rune split exactly at the 8KB sample edge must not be
	// misread as corruption.
	data := strings.Repeat("a", 8*1024-1) + "é" + strings.Repeat("b", 100)
	assert.NoError(t, bookvault.ValidateFile(bookvault.FormatTXT, []byte(data)))

	// Invalid UTF-8 inside the sample is rejected.
	bad := append([]byte("hello "), 0xff, 0xfe)
	assert.ErrorIs(t, bookvault.ValidateFile(bookvault.FormatTXT, bad), bookvault.ErrInvalidFile)
}

func TestValidatePDFHeader(t *testing.T) {
	assert.NoError(t, bookvault.ValidateFile(bookvault.FormatPDF, []byte("%PDF-1.7\n...")))
	assert.ErrorIs(t, bookvault.ValidateFile(bookvault.FormatPDF, []byte(" %PDF-1.7")), bookvault.ErrInvalidFile)
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain.txt", "plain.txt"},
		{"../../etc/passwd", "passwd"},
		{"café menu.pdf", "caf- menu.pdf"},
		{"tab\there.txt", "tabhere.txt"},
		{"..", "upload"},
		{"", "upload"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, bookvault.SanitizeFileName(tt.in), "input %q", tt.in)
	}
}
