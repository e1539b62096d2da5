// Package events publishes store lifecycle notifications.
//
// Events are sent after the change is durable. A failed publish never
// undoes or fails the operation that triggered it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/logging"
)

// Kind names a lifecycle transition.
type Kind string

const (
	KindCreated Kind = "created"
	KindMerged  Kind = "merged"
	KindDeleted Kind = "deleted"
)

// Event describes one committed change to a store.
type Event struct {
	Kind        Kind      `json:"kind"`
	Store       string    `json:"store"`
	RecordCount int       `json:"record_count"`
	Added       int       `json:"added,omitempty"`
	Revision    string    `json:"revision,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// NATSPublisher publishes each event as JSON on <prefix>.<kind>. The store
// name travels in the payload because names may contain subject
// separators.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *logging.Logger
}

// NewNATSPublisher publishes on an existing connection. Close leaves the
// connection open.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *NATSPublisher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// Connect returns a publisher for cfg. An empty NATS URL yields Nop.
func Connect(cfg config.EventsConfig, logger *logging.Logger) (Publisher, error) {
	if cfg.NATSURL == "" {
		return Nop{}, nil
	}
	if logger == nil {
		logger = logging.Nop()
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("ragstore"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	logger.Info(context.Background(), "connected to NATS", zap.String("url", cfg.NATSURL))

	p := NewNATSPublisher(nc, cfg.SubjectPrefix, logger)
	p.owned = true
	return p, nil
}

// Subject returns the subject events of kind are published on.
func (p *NATSPublisher) Subject(kind Kind) string {
	return p.prefix + "." + string(kind)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Kind, err)
	}
	if err := p.nc.Publish(p.Subject(e.Kind), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Kind, err)
	}
	p.logger.Debug(ctx, "published store event",
		zap.String("subject", p.Subject(e.Kind)),
		zap.String("store.name", e.Store))
	return nil
}

// Close drains the connection if the publisher opened it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}
