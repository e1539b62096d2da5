// Package backend persists vector stores by name.
//
// A Backend owns the persisted namespace. Every write replaces a whole
// store atomically: readers see either the previous version or the new
// one, never a mix, and a failed or cancelled write leaves the previous
// version in place. Backends do not serialize writers to the same name;
// the store manager does that.
//
// Four implementations exist: fs (one file per store), bolt (a bbolt
// database), sqlite (modernc.org/sqlite) and qdrant (a collection per store
// version behind an alias).
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
	"github.com/fyrsmithlabs/ragstore/internal/vectorstore"
)

// Manifest describes a persisted store without its records.
type Manifest struct {
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	RecordCount int       `json:"record_count"`
	Dimension   int       `json:"dimension"`
	// Revision changes on every write. Cached handles compare it to detect
	// staleness.
	Revision string `json:"revision"`
}

// Backend is a persisted store namespace.
type Backend interface {
	// List returns the manifests of all stores, sorted by name.
	List(ctx context.Context) ([]Manifest, error)
	// Stat returns one manifest, or ErrStoreNotFound.
	Stat(ctx context.Context, name string) (Manifest, error)
	// Load reads a store, or fails with ErrStoreNotFound.
	Load(ctx context.Context, name string, opts ...vectorstore.Option) (*vectorstore.Store, Manifest, error)
	// Create persists a new store. It fails with ErrNameCollision if the
	// name is taken.
	Create(ctx context.Context, m Manifest, s *vectorstore.Store) error
	// Replace atomically swaps an existing store for s. It fails with
	// ErrStoreNotFound if the name is free.
	Replace(ctx context.Context, m Manifest, s *vectorstore.Store) error
	// Delete removes a store, or fails with ErrStoreNotFound.
	Delete(ctx context.Context, name string) error
	Close() error
}

// Backend names accepted by Open.
const (
	KindFS     = "fs"
	KindBolt   = "bolt"
	KindSQLite = "sqlite"
	KindQdrant = "qdrant"
)

const maxNameLen = 200

// ValidateName rejects names that no backend can address.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty store name", ragerr.ErrInvalidParameter)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: store name longer than %d bytes", ragerr.ErrInvalidParameter, maxNameLen)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: store name is not valid UTF-8", ragerr.ErrInvalidParameter)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: store name contains a control character", ragerr.ErrInvalidParameter)
		}
	}
	return nil
}

// Open creates the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, logger *logging.Logger) (Backend, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("backend")

	var (
		b   Backend
		err error
	)
	switch cfg.Backend {
	case KindFS, "":
		b, err = NewFS(cfg.Path, logger)
	case KindBolt:
		b, err = NewBolt(cfg.Path, logger)
	case KindSQLite:
		b, err = NewSQLite(ctx, cfg.Path, logger)
	case KindQdrant:
		b, err = NewQdrant(ctx, QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey.Value(),
			UseTLS: cfg.Qdrant.UseTLS,
			Prefix: cfg.Qdrant.Prefix,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", ragerr.ErrInvalidParameter, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func manifestFor(m Manifest, s *vectorstore.Store) Manifest {
	m.RecordCount = s.Len()
	m.Dimension = s.Dimension()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m
}

// persistenceErr wraps I/O failures. Context errors pass through so callers
// can tell cancellation apart.
func persistenceErr(op, name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s %q: %v", ragerr.ErrPersistence, op, name, err)
}

func notFound(name string) error {
	return fmt.Errorf("%w: %q", ragerr.ErrStoreNotFound, name)
}

func collision(name string) error {
	return fmt.Errorf("%w: store %q already exists", ragerr.ErrNameCollision, name)
}

// isTaxonomy reports whether err already carries a ragerr classification
// that must not be rewrapped.
func isTaxonomy(err error) bool {
	return errors.Is(err, ragerr.ErrStoreNotFound) ||
		errors.Is(err, ragerr.ErrNameCollision) ||
		errors.Is(err, ragerr.ErrPersistence) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
