package vectorstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

// MaxDimension bounds the embedding dimension of a store.
const MaxDimension = 1 << 16

// Store is an in-memory collection of Records with a similarity index.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	dim     int
	records []Record
	kind    IndexKind
	index   Index
}

// Option configures a Store.
type Option func(*Store)

// WithIndex selects the similarity index. The default is IndexFlat.
func WithIndex(kind IndexKind) Option {
	return func(s *Store) {
		s.kind = kind
	}
}

// New returns an empty store. Its dimension is fixed by the first Insert.
func New(opts ...Option) (*Store, error) {
	s := &Store{kind: IndexFlat}
	for _, opt := range opts {
		opt(s)
	}
	idx, err := newIndex(s.kind)
	if err != nil {
		return nil, err
	}
	s.index = idx
	return s, nil
}

// Dimension returns the established vector dimension, or 0 while empty.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// IndexKind returns the index the store was built with.
func (s *Store) IndexKind() IndexKind {
	return s.kind
}

// Records returns the records in insertion order. The returned slice is a
// copy; vectors are shared and must not be modified.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Insert appends records. Every vector must match the store's dimension;
// for an empty store the first record fixes it. On any error the store is
// unchanged.
func (s *Store) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	if dim == 0 {
		dim = len(records[0].Vector)
	}
	if dim == 0 {
		return fmt.Errorf("%w: record 0 has an empty vector", ragerr.ErrInvalidParameter)
	}
	if dim > MaxDimension {
		return fmt.Errorf("%w: dimension %d exceeds %d", ragerr.ErrInvalidParameter, dim, MaxDimension)
	}

	batch := make([]Record, len(records))
	for i, r := range records {
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: record %d has dimension %d, store has %d",
				ragerr.ErrDimensionMismatch, i, len(r.Vector), dim)
		}
		r.Vector = slices.Clone(r.Vector)
		r.CreatedAt = normalizeTime(r.CreatedAt)
		batch[i] = r
	}

	if err := s.index.Add(ctx, len(s.records), batch); err != nil {
		return err
	}
	s.dim = dim
	s.records = append(s.records, batch...)
	return nil
}

// Search returns the k records most similar to query, by descending cosine
// similarity. Equal scores keep insertion order. Fewer than k results are
// returned only when the store holds fewer than k records.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ragerr.ErrInvalidParameter, k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return []Result{}, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, store has %d",
			ragerr.ErrDimensionMismatch, len(query), s.dim)
	}

	scores, err := s.index.Scores(ctx, query, s.records)
	if err != nil {
		return nil, err
	}

	order := make([]int, len(s.records))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		default:
			return 0
		}
	})

	if k > len(order) {
		k = len(order)
	}
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		results[i] = Result{Record: s.records[order[i]], Score: scores[order[i]]}
	}
	return results, nil
}

// Merge appends all records of other, in other's order, after the
// receiver's records. No deduplication happens. Dimensions must agree
// unless one side is empty.
func (s *Store) Merge(ctx context.Context, other *Store) error {
	if other == nil {
		return nil
	}
	incoming := other.Records()
	if len(incoming) == 0 {
		return nil
	}
	if d := s.Dimension(); d != 0 && d != other.Dimension() {
		return fmt.Errorf("%w: merging dimension %d into %d",
			ragerr.ErrDimensionMismatch, other.Dimension(), d)
	}
	return s.Insert(ctx, incoming)
}
