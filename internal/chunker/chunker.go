// Package chunker splits extracted document text into overlapping segments.
//
// Offsets and lengths are measured in runes, so multi-byte text is never
// split inside a character.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

// Segment is a contiguous slice of a document's text.
type Segment struct {
	// Offset is the rune index of the first character, or -1 when the
	// splitter rewrote the text so that it cannot be located.
	Offset int
	// Length is the number of runes in Text.
	Length int
	Text   string
}

// Chunker splits text into segments.
type Chunker interface {
	Chunk(text string) ([]Segment, error)
}

// Chunk splits text with a fixed sliding window. Segment i starts at rune
// i*(size-overlap) and holds min(size, remaining) runes; the last segment
// may be shorter. Empty text yields an empty slice.
func Chunk(text string, size, overlap int) ([]Segment, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	if text == "" {
		return []Segment{}, nil
	}

	runes := []rune(text)
	n := len(runes)
	stride := size - overlap
	segments := make([]Segment, 0, (n+stride-1)/stride)

	for start := 0; start < n; start += stride {
		end := start + size
		if end > n {
			end = n
		}
		segments = append(segments, Segment{
			Offset: start,
			Length: end - start,
			Text:   string(runes[start:end]),
		})
	}
	return segments, nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ragerr.ErrInvalidParameter, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ragerr.ErrInvalidParameter, size, overlap)
	}
	return nil
}

// Window is the fixed sliding-window Chunker.
type Window struct {
	size, overlap int
}

// NewWindow validates parameters up front.
func NewWindow(size, overlap int) (*Window, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &Window{size: size, overlap: overlap}, nil
}

// Chunk implements Chunker.
func (w *Window) Chunk(text string) ([]Segment, error) {
	return Chunk(text, w.size, w.overlap)
}

// Recursive splits on paragraph, line and word boundaries before falling
// back to characters, keeping each segment within size runes.
type Recursive struct {
	splitter textsplitter.RecursiveCharacter
}

// NewRecursive validates parameters and builds the splitter.
func NewRecursive(size, overlap int) (*Recursive, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &Recursive{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}, nil
}

// Chunk implements Chunker.
func (r *Recursive) Chunk(text string) ([]Segment, error) {
	if text == "" {
		return []Segment{}, nil
	}
	pieces, err := r.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("recursive split: %w", err)
	}

	segments := make([]Segment, 0, len(pieces))
	searchFrom, runesBefore := 0, 0 // byte cursor and rune count of text[:searchFrom]
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		seg := Segment{Offset: -1, Length: utf8.RuneCountInString(piece), Text: piece}
		if idx := strings.Index(text[searchFrom:], piece); idx >= 0 {
			at := searchFrom + idx
			runesBefore += utf8.RuneCountInString(text[searchFrom:at])
			seg.Offset = runesBefore
			// Pieces may overlap, so the next search starts just past this start.
			_, width := utf8.DecodeRuneInString(text[at:])
			searchFrom = at + width
			runesBefore++
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// New builds the Chunker selected by cfg.
func New(cfg config.ChunkingConfig) (Chunker, error) {
	switch cfg.Strategy {
	case "", "window":
		return NewWindow(cfg.Size, cfg.Overlap)
	case "recursive":
		return NewRecursive(cfg.Size, cfg.Overlap)
	default:
		return nil, fmt.Errorf("%w: unknown chunking strategy %q", ragerr.ErrInvalidParameter, cfg.Strategy)
	}
}
