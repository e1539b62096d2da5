package vectorstore

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

// IndexKind selects a similarity index.
type IndexKind string

const (
	IndexFlat    IndexKind = "flat"
	IndexChromem IndexKind = "chromem"
)

// Index scores stored records against a query.
type Index interface {
	// Add registers records occupying positions [offset, offset+len(records)).
	// On error the index must be left as it was.
	Add(ctx context.Context, offset int, records []Record) error
	// Scores returns one similarity per record, in insertion order.
	Scores(ctx context.Context, query []float32, records []Record) ([]float64, error)
}

func newIndex(kind IndexKind) (Index, error) {
	switch kind {
	case IndexFlat, "":
		return flatIndex{}, nil
	case IndexChromem:
		return newChromemIndex()
	default:
		return nil, fmt.Errorf("%w: unknown index %q", ragerr.ErrInvalidParameter, kind)
	}
}

// flatIndex is the exact linear scan. It keeps no state of its own.
type flatIndex struct{}

func (flatIndex) Add(context.Context, int, []Record) error { return nil }

func (flatIndex) Scores(ctx context.Context, query []float32, records []Record) ([]float64, error) {
	qmag := magnitude(query)
	scores := make([]float64, len(records))
	for i := range records {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scores[i] = cosine(query, qmag, records[i].Vector)
	}
	return scores, nil
}

// chromemIndex keeps a chromem collection keyed by record position.
// Zero-magnitude vectors are not added: chromem would normalize them to NaN
// and their similarity is defined as 0 anyway.
type chromemIndex struct {
	collection *chromem.Collection
}

func newChromemIndex() (*chromemIndex, error) {
	db := chromem.NewDB()
	// Vectors always arrive precomputed.
	noEmbed := func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("chromem index does not embed text")
	}
	col, err := db.CreateCollection("records", nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("create chromem collection: %w", err)
	}
	return &chromemIndex{collection: col}, nil
}

func (c *chromemIndex) Add(ctx context.Context, offset int, records []Record) error {
	docs := make([]chromem.Document, 0, len(records))
	ids := make([]string, 0, len(records))
	for i, r := range records {
		if magnitude(r.Vector) == 0 {
			continue
		}
		id := strconv.Itoa(offset + i)
		ids = append(ids, id)
		docs = append(docs, chromem.Document{ID: id, Embedding: r.Vector})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := c.collection.AddDocuments(ctx, docs, runtime.GOMAXPROCS(0)); err != nil {
		_ = c.collection.Delete(context.Background(), nil, nil, ids...)
		return fmt.Errorf("chromem add: %w", err)
	}
	return nil
}

func (c *chromemIndex) Scores(ctx context.Context, query []float32, records []Record) ([]float64, error) {
	scores := make([]float64, len(records))
	n := c.collection.Count()
	if n == 0 || magnitude(query) == 0 {
		return scores, nil
	}
	results, err := c.collection.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	for _, r := range results {
		pos, err := strconv.Atoi(r.ID)
		if err != nil || pos < 0 || pos >= len(scores) {
			return nil, fmt.Errorf("chromem returned unknown id %q", r.ID)
		}
		scores[pos] = float64(r.Similarity)
	}
	return scores, nil
}
