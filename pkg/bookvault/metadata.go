package bookvault

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ExtractMetadata extracts lightweight descriptive metadata from an uploaded
// file. Extraction is best-effort: any failure falls back to the file name
// as title and leaves the remaining fields zero.
func ExtractMetadata(format BookFormat, fileName string, data []byte) BookMetadata {
	md := BookMetadata{Title: titleFromFileName(fileName)}

	switch format {
	case FormatPDF:
		if count, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration()); err == nil {
			md.PageCount = count
		}
	case FormatEPUB:
		fillEPUBMetadata(&md, data)
	case FormatTXT:
		// Nothing beyond the file name to extract.
	}
	return md
}

func titleFromFileName(fileName string) string {
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ocfContainer models META-INF/container.xml, which points at the package
// document (OPF).
type ocfContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// opfPackage models the subset of the EPUB package document we read.
type opfPackage struct {
	Metadata struct {
		Title    string `xml:"title"`
		Creator  string `xml:"creator"`
		Language string `xml:"language"`
	} `xml:"metadata"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

func fillEPUBMetadata(md *BookMetadata, data []byte) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return
	}

	containerData, err := readZipEntry(zr, "META-INF/container.xml")
	if err != nil {
		return
	}

	var container ocfContainer
	if err := xml.Unmarshal(containerData, &container); err != nil || len(container.Rootfiles) == 0 {
		return
	}

	opfData, err := readZipEntry(zr, container.Rootfiles[0].FullPath)
	if err != nil {
		return
	}

	var pkg opfPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return
	}

	if title := strings.TrimSpace(pkg.Metadata.Title); title != "" {
		md.Title = title
	}
	md.Author = strings.TrimSpace(pkg.Metadata.Creator)
	md.Language = strings.TrimSpace(pkg.Metadata.Language)
	md.PageCount = len(pkg.Spine.ItemRefs)
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
