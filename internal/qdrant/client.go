// Package qdrant wraps the official Qdrant gRPC client with the subset of
// operations the qdrant store backend needs: collections, aliases and
// whole-collection point transfer.
package qdrant

import (
	"context"
)

// Client is the Qdrant surface used by the backend.
type Client interface {
	// Collection operations
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	DeleteCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)

	// Aliases maps alias name to collection name.
	Aliases(ctx context.Context) (map[string]string, error)
	// PointAlias makes alias refer to collection in one atomic update,
	// dropping any previous binding.
	PointAlias(ctx context.Context, alias, collection string, replace bool) error
	DeleteAlias(ctx context.Context, alias string) error

	// Point operations
	Upsert(ctx context.Context, collection string, points []*Point) error
	Get(ctx context.Context, collection string, ids []string) ([]*Point, error)
	Delete(ctx context.Context, collection string, ids []string) error
	// ScrollAll calls fn for each page of points, vectors included.
	ScrollAll(ctx context.Context, collection string, pageSize uint32, fn func([]*Point) error) error

	Health(ctx context.Context) error
	Close() error
}

// Point is a vector point. ID is either a UUID or a decimal unsigned
// integer.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}
