package backend

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/ragstore/internal/qdrant"
)

// memQdrant is an in-memory qdrant.Client. Collections may be addressed
// through aliases, as on a real server.
type memQdrant struct {
	mu          sync.Mutex
	collections map[string]map[string]*qdrant.Point
	aliases     map[string]string
	failUpsert  func(collection string) error
	failAlias   func(alias string) error
}

func newMemQdrant() *memQdrant {
	return &memQdrant{
		collections: map[string]map[string]*qdrant.Point{},
		aliases:     map[string]string{},
	}
}

func (m *memQdrant) resolve(name string) (map[string]*qdrant.Point, error) {
	if target, ok := m.aliases[name]; ok {
		name = target
	}
	c, ok := m.collections[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "collection %s not found", name)
	}
	return c, nil
}

func (m *memQdrant) CreateCollection(ctx context.Context, name string, _ uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return status.Errorf(codes.AlreadyExists, "collection %s exists", name)
	}
	m.collections[name] = map[string]*qdrant.Point{}
	return nil
}

func (m *memQdrant) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *memQdrant) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *memQdrant) Aliases(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.aliases))
	for k, v := range m.aliases {
		out[k] = v
	}
	return out, nil
}

func (m *memQdrant) PointAlias(ctx context.Context, alias, collection string, replace bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAlias != nil {
		if err := m.failAlias(alias); err != nil {
			return err
		}
	}
	if _, ok := m.aliases[alias]; ok && !replace {
		return status.Errorf(codes.AlreadyExists, "alias %s exists", alias)
	}
	if _, ok := m.collections[collection]; !ok {
		return status.Errorf(codes.NotFound, "collection %s not found", collection)
	}
	m.aliases[alias] = collection
	return nil
}

func (m *memQdrant) DeleteAlias(_ context.Context, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.aliases, alias)
	return nil
}

func (m *memQdrant) Upsert(ctx context.Context, collection string, points []*qdrant.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert != nil {
		if err := m.failUpsert(collection); err != nil {
			return err
		}
	}
	c, err := m.resolve(collection)
	if err != nil {
		return err
	}
	for _, p := range points {
		payload := make(map[string]interface{}, len(p.Payload))
		for k, v := range p.Payload {
			// The server hands integers back as int64.
			if n, ok := v.(int); ok {
				v = int64(n)
			}
			payload[k] = v
		}
		c[p.ID] = &qdrant.Point{ID: p.ID, Vector: append([]float32(nil), p.Vector...), Payload: payload}
	}
	return nil
}

func (m *memQdrant) Get(ctx context.Context, collection string, ids []string) ([]*qdrant.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.resolve(collection)
	if err != nil {
		return nil, err
	}
	var out []*qdrant.Point
	for _, id := range ids {
		if p, ok := c[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memQdrant) Delete(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.resolve(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(c, id)
	}
	return nil
}

func (m *memQdrant) ScrollAll(ctx context.Context, collection string, pageSize uint32, fn func([]*qdrant.Point) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	c, err := m.resolve(collection)
	var points []*qdrant.Point
	for _, p := range c {
		points = append(points, p)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	// Scroll order is by ID; numeric IDs sort numerically.
	sort.Slice(points, func(i, j int) bool {
		a, aerr := strconv.ParseUint(points[i].ID, 10, 64)
		b, berr := strconv.ParseUint(points[j].ID, 10, 64)
		if aerr == nil && berr == nil {
			return a < b
		}
		return points[i].ID < points[j].ID
	})
	for start := 0; start < len(points); start += int(pageSize) {
		end := min(start+int(pageSize), len(points))
		if err := fn(points[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memQdrant) Health(context.Context) error { return nil }

func (m *memQdrant) Close() error { return nil }

func (m *memQdrant) collectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections)
}

var _ qdrant.Client = (*memQdrant)(nil)
