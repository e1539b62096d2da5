// Package storemanager implements the lifecycle of named vector stores:
// list, create, merge, delete and read-only open.
//
// Writers to the same name are serialized in-process; different names
// proceed concurrently. Every write goes through the backend's atomic
// replace, so a failed or cancelled operation leaves the namespace as it
// was.
package storemanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragstore/internal/backend"
	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/events"
	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
	"github.com/fyrsmithlabs/ragstore/internal/vectorstore"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/ragstore/internal/storemanager"

	defaultBaseName        = "vectorstore"
	defaultMaxNameAttempts = 32
)

// Manager owns the persisted store namespace.
type Manager struct {
	backend     backend.Backend
	baseName    string
	maxAttempts int
	index       vectorstore.IndexKind
	dimension   int

	locks     *nameLocks
	publisher events.Publisher
	logger    *logging.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTracerProvider sets the provider spans are created on.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.tracer = tp.Tracer(instrumentationName) }
}

// WithPublisher sets where lifecycle events go.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithDimension requires every record written through the manager to have
// dimension d.
func WithDimension(d int) Option {
	return func(m *Manager) { m.dimension = d }
}

// WithClock replaces time.Now for manifest timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns a Manager over b. cfg supplies the base name, the naming
// attempt bound and the index used by Open.
func New(b backend.Backend, cfg config.StoreConfig, opts ...Option) (*Manager, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil backend", ragerr.ErrInvalidParameter)
	}
	m := &Manager{
		backend:     b,
		baseName:    cfg.BaseName,
		maxAttempts: cfg.MaxNameAttempts,
		index:       vectorstore.IndexKind(cfg.Index),
		locks:       newNameLocks(),
		publisher:   events.Nop{},
		logger:      logging.Nop(),
		tracer:      otel.Tracer(instrumentationName),
		now:         time.Now,
	}
	if m.baseName == "" {
		m.baseName = defaultBaseName
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = defaultMaxNameAttempts
	}
	if m.index == "" {
		m.index = vectorstore.IndexFlat
	}
	if m.index != vectorstore.IndexFlat && m.index != vectorstore.IndexChromem {
		return nil, fmt.Errorf("%w: unknown index %q", ragerr.ErrInvalidParameter, cfg.Index)
	}
	if err := backend.ValidateName(m.baseName); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dimension < 0 {
		return nil, fmt.Errorf("%w: negative dimension", ragerr.ErrInvalidParameter)
	}
	return m, nil
}

// Index returns the index kind stores are opened with.
func (m *Manager) Index() vectorstore.IndexKind {
	return m.index
}

// List returns the metadata of every persisted store, sorted by name.
func (m *Manager) List(ctx context.Context) (_ []StoreMetadata, err error) {
	ctx, span := m.start(ctx, "StoreManager.List")
	defer func() { m.finish(span, "list", time.Now(), err) }()

	list, err := m.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("store.count", len(list)))
	return list, nil
}

// Stat returns one store's metadata.
func (m *Manager) Stat(ctx context.Context, name string) (StoreMetadata, error) {
	if err := backend.ValidateName(name); err != nil {
		return StoreMetadata{}, err
	}
	return m.backend.Stat(ctx, name)
}

// Open loads a store for reading. The returned store is a private copy;
// changes to it are not persisted.
func (m *Manager) Open(ctx context.Context, name string) (_ *vectorstore.Store, _ StoreMetadata, err error) {
	ctx, span := m.start(ctx, "StoreManager.Open", attribute.String("store.name", name))
	defer func() { m.finish(span, "open", time.Now(), err) }()

	if err := backend.ValidateName(name); err != nil {
		return nil, StoreMetadata{}, err
	}
	return m.backend.Load(ctx, name, vectorstore.WithIndex(m.index))
}

// Create persists req.Records under a fresh name and returns it. Names are
// <base>(N), N starting at the current store count plus one and
// increasing past names that are taken.
func (m *Manager) Create(ctx context.Context, req CreateStoreRequest) (_ string, err error) {
	start := time.Now()
	ctx, span := m.start(ctx, "StoreManager.Create", attribute.Int("store.records", len(req.Records)))
	defer func() { m.finish(span, "create", start, err) }()

	base := req.BaseName
	if base == "" {
		base = m.baseName
	}
	if err := backend.ValidateName(base); err != nil {
		return "", err
	}
	if len(req.Records) == 0 {
		return "", fmt.Errorf("%w: a new store needs at least one record", ragerr.ErrInvalidParameter)
	}
	st, err := m.buildStore(ctx, req.Records)
	if err != nil {
		return "", err
	}

	existing, err := m.backend.List(ctx)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		taken[e.Name] = true
	}

	now := m.now().UTC()
	n := len(existing) + 1
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		name := fmt.Sprintf("%s(%d)", base, n)
		n++
		if taken[name] {
			continue
		}
		if err := backend.ValidateName(name); err != nil {
			return "", err
		}

		manifest := StoreMetadata{Name: name, CreatedAt: now, UpdatedAt: now, Revision: uuid.NewString()}
		err := m.withLock(ctx, name, func() error {
			return m.backend.Create(ctx, manifest, st)
		})
		if errors.Is(err, ragerr.ErrNameCollision) {
			m.logger.Debug(ctx, "store name taken, trying next", zap.String("candidate", name))
			continue
		}
		if err != nil {
			return "", err
		}

		NameAttempts.Observe(float64(attempt))
		span.SetAttributes(attribute.String("store.name", name), attribute.Int("store.name_attempts", attempt))
		ctx = logging.WithStore(ctx, name)
		m.logger.Info(ctx, "store created",
			zap.Int("records", st.Len()),
			zap.Int("dimension", st.Dimension()))
		m.publish(ctx, events.Event{
			Kind:        events.KindCreated,
			Store:       name,
			RecordCount: st.Len(),
			Added:       st.Len(),
			Revision:    manifest.Revision,
		})
		return name, nil
	}
	NameAttempts.Observe(float64(m.maxAttempts))
	return "", fmt.Errorf("%w: no free name for base %q after %d attempts",
		ragerr.ErrNameCollision, base, m.maxAttempts)
}

// Merge appends req.Records to the target store and persists the result
// under the same name.
func (m *Manager) Merge(ctx context.Context, req MergeRequest) (_ StoreMetadata, err error) {
	start := time.Now()
	ctx, span := m.start(ctx, "StoreManager.Merge",
		attribute.String("store.name", req.Target),
		attribute.Int("store.records", len(req.Records)))
	defer func() { m.finish(span, "merge", start, err) }()

	if err := backend.ValidateName(req.Target); err != nil {
		return StoreMetadata{}, err
	}
	incoming, err := m.buildStore(ctx, req.Records)
	if err != nil {
		return StoreMetadata{}, err
	}
	return m.merge(ctx, req.Target, incoming)
}

// MergeStores appends every record of one persisted store to another.
func (m *Manager) MergeStores(ctx context.Context, req MergeStoresRequest) (_ StoreMetadata, err error) {
	start := time.Now()
	ctx, span := m.start(ctx, "StoreManager.MergeStores",
		attribute.String("store.name", req.Target),
		attribute.String("store.source", req.Source))
	defer func() { m.finish(span, "merge", start, err) }()

	if err := backend.ValidateName(req.Source); err != nil {
		return StoreMetadata{}, err
	}
	if err := backend.ValidateName(req.Target); err != nil {
		return StoreMetadata{}, err
	}
	if req.Source == req.Target {
		return StoreMetadata{}, fmt.Errorf("%w: cannot merge store %q into itself", ragerr.ErrInvalidParameter, req.Source)
	}
	source, _, err := m.backend.Load(ctx, req.Source)
	if err != nil {
		return StoreMetadata{}, err
	}
	if err := m.checkDimension(source.Dimension()); err != nil {
		return StoreMetadata{}, err
	}
	return m.merge(ctx, req.Target, source)
}

func (m *Manager) merge(ctx context.Context, target string, incoming *vectorstore.Store) (StoreMetadata, error) {
	ctx = logging.WithStore(ctx, target)

	var manifest StoreMetadata
	err := m.withLock(ctx, target, func() error {
		st, current, err := m.backend.Load(ctx, target)
		if err != nil {
			return err
		}
		manifest = current
		if incoming.Len() == 0 {
			return nil
		}
		if err := st.Merge(ctx, incoming); err != nil {
			return err
		}
		manifest.UpdatedAt = m.now().UTC()
		manifest.Revision = uuid.NewString()
		if err := m.backend.Replace(ctx, manifest, st); err != nil {
			return err
		}
		manifest.RecordCount = st.Len()
		manifest.Dimension = st.Dimension()
		return nil
	})
	if err != nil {
		return StoreMetadata{}, err
	}
	if incoming.Len() == 0 {
		m.logger.Debug(ctx, "merge with no records left store unchanged")
		return manifest, nil
	}

	m.logger.Info(ctx, "store merged",
		zap.Int("added", incoming.Len()),
		zap.Int("records", manifest.RecordCount))
	m.publish(ctx, events.Event{
		Kind:        events.KindMerged,
		Store:       target,
		RecordCount: manifest.RecordCount,
		Added:       incoming.Len(),
		Revision:    manifest.Revision,
	})
	return manifest, nil
}

// Delete removes a store. Deleting a missing store fails with
// ErrStoreNotFound.
func (m *Manager) Delete(ctx context.Context, req DeleteRequest) (err error) {
	start := time.Now()
	ctx, span := m.start(ctx, "StoreManager.Delete", attribute.String("store.name", req.Name))
	defer func() { m.finish(span, "delete", start, err) }()

	if err := backend.ValidateName(req.Name); err != nil {
		return err
	}
	ctx = logging.WithStore(ctx, req.Name)
	if err := m.withLock(ctx, req.Name, func() error {
		return m.backend.Delete(ctx, req.Name)
	}); err != nil {
		return err
	}

	m.logger.Info(ctx, "store deleted")
	m.publish(ctx, events.Event{Kind: events.KindDeleted, Store: req.Name})
	return nil
}

// Close closes the backend and the event publisher.
func (m *Manager) Close() error {
	return errors.Join(m.publisher.Close(), m.backend.Close())
}

// buildStore validates records into an unpersisted store.
func (m *Manager) buildStore(ctx context.Context, records []vectorstore.Record) (*vectorstore.Store, error) {
	st, err := vectorstore.New()
	if err != nil {
		return nil, err
	}
	if err := st.Insert(ctx, records); err != nil {
		return nil, err
	}
	if err := m.checkDimension(st.Dimension()); err != nil {
		return nil, err
	}
	return st, nil
}

func (m *Manager) checkDimension(d int) error {
	if m.dimension != 0 && d != 0 && d != m.dimension {
		return fmt.Errorf("%w: records have dimension %d, configured model produces %d",
			ragerr.ErrDimensionMismatch, d, m.dimension)
	}
	return nil
}

func (m *Manager) withLock(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := m.locks.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (m *Manager) publish(ctx context.Context, e events.Event) {
	e.Timestamp = m.now().UTC()
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.logger.Warn(ctx, "failed to publish store event",
			zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func (m *Manager) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (m *Manager) finish(span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ragerr.Kind(err))
	}
	span.End()
	observe(op, start, err)
}
