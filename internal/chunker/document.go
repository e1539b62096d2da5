package chunker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

// Document is extracted text awaiting ingestion.
type Document struct {
	Text string
	// Source identifies where the text came from (path or URL, with a
	// "#page=N" suffix for paginated formats).
	Source     string
	IngestedAt time.Time
}

// Format is a declared input format.
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

var now = time.Now

// FormatFromPath guesses a format from the file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FormatPDF
	case ".html", ".htm":
		return FormatHTML
	default:
		return FormatText
	}
}

// ParseFormat validates a user supplied format name. An empty name means
// "infer from the path".
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case "", FormatText, FormatHTML, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown document format %q", ragerr.ErrInvalidParameter, name)
	}
}

// Load extracts text from raw document bytes. PDFs yield one Document per
// page; other formats yield a single Document.
func Load(ctx context.Context, r io.Reader, source string, format Format) ([]Document, error) {
	var (
		docs []schema.Document
		err  error
	)
	switch format {
	case FormatText, "":
		docs, err = documentloaders.NewText(r).Load(ctx)
	case FormatHTML:
		docs, err = documentloaders.NewHTML(r).Load(ctx)
	case FormatPDF:
		data, readErr := io.ReadAll(r)
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", source, readErr)
		}
		docs, err = documentloaders.NewPDF(bytes.NewReader(data), int64(len(data))).Load(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown document format %q", ragerr.ErrInvalidParameter, format)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s text from %s: %w", format, source, err)
	}

	ingested := now().UTC()
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		src := source
		if page, ok := d.Metadata["page"]; ok {
			src = fmt.Sprintf("%s#page=%v", source, page)
		}
		out = append(out, Document{Text: d.PageContent, Source: src, IngestedAt: ingested})
	}
	return out, nil
}

// LoadFile opens a local, already resolved path. An empty format is inferred
// from the extension.
func LoadFile(ctx context.Context, path string, format Format) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	if format == "" {
		format = FormatFromPath(path)
	}
	return Load(ctx, f, path, format)
}
