package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/qdrant"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
	"github.com/fyrsmithlabs/ragstore/internal/sanitize"
	"github.com/fyrsmithlabs/ragstore/internal/vectorstore"
)

const (
	defaultQdrantPrefix = "ragstore"
	qdrantPageSize      = 256

	// maxQdrantPrefix leaves room for "_" and a UUID in alias names.
	maxQdrantPrefix = 27
)

// manifestNamespace derives stable point IDs and alias names from store
// names, which may contain characters Qdrant does not accept.
var manifestNamespace = uuid.MustParse("6f1c1f7e-9a43-4c52-8d3e-2b8f2f0e5a11")

// QdrantConfig configures the qdrant backend.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	Prefix string
}

// Qdrant stores every version of a store in its own collection. Manifests
// live in <prefix>_manifests, and each manifest point names the collection
// holding its records. Writes upload a fresh collection and then upsert the
// manifest point; that single upsert is the commit. An alias per store is
// kept pointing at the committed collection for operators browsing the
// server, but reads never go through it.
type Qdrant struct {
	client    qdrant.Client
	prefix    string
	manifests string
	logger    *logging.Logger
}

// NewQdrant connects to Qdrant and ensures the manifest collection exists.
func NewQdrant(ctx context.Context, cfg QdrantConfig, logger *logging.Logger) (*Qdrant, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	client, err := qdrant.NewGRPCClient(ctx, &qdrant.ClientConfig{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}, logger)
	if err != nil {
		return nil, persistenceErr("open", cfg.Host, err)
	}
	q, err := newQdrant(ctx, client, cfg.Prefix, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

func newQdrant(ctx context.Context, client qdrant.Client, prefix string, logger *logging.Logger) (*Qdrant, error) {
	prefix = sanitize.Identifier(prefix, maxQdrantPrefix, defaultQdrantPrefix)
	q := &Qdrant{
		client:    client,
		prefix:    prefix,
		manifests: prefix + "_manifests",
		logger:    logger,
	}

	exists, err := client.CollectionExists(ctx, q.manifests)
	if err != nil {
		return nil, persistenceErr("open", q.manifests, err)
	}
	if !exists {
		err := client.CreateCollection(ctx, q.manifests, 1)
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return nil, persistenceErr("open", q.manifests, err)
		}
	}
	return q, nil
}

func (q *Qdrant) manifestID(name string) string {
	return uuid.NewSHA1(manifestNamespace, []byte(name)).String()
}

func (q *Qdrant) alias(name string) string {
	return q.prefix + "_" + q.manifestID(name)
}

func (q *Qdrant) newCollectionName() string {
	return fmt.Sprintf("%s_%d_%s", q.prefix, time.Now().UnixNano(), uuid.NewString()[:8])
}

// List implements Backend.
func (q *Qdrant) List(ctx context.Context) ([]Manifest, error) {
	out := []Manifest{}
	err := q.client.ScrollAll(ctx, q.manifests, qdrantPageSize, func(points []*qdrant.Point) error {
		for _, p := range points {
			m, err := decodeManifestPoint(p)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, persistenceErr("list", "", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stat implements Backend.
func (q *Qdrant) Stat(ctx context.Context, name string) (Manifest, error) {
	m, _, err := q.head(ctx, name)
	return m, err
}

// head returns the committed manifest of name and the collection holding
// its records.
func (q *Qdrant) head(ctx context.Context, name string) (Manifest, string, error) {
	points, err := q.client.Get(ctx, q.manifests, []string{q.manifestID(name)})
	if err != nil {
		return Manifest{}, "", persistenceErr("stat", name, err)
	}
	if len(points) == 0 {
		return Manifest{}, "", notFound(name)
	}
	m, err := decodeManifestPoint(points[0])
	if err != nil {
		return Manifest{}, "", persistenceErr("stat", name, err)
	}
	coll, ok := points[0].Payload["collection"].(string)
	if !ok || coll == "" {
		return Manifest{}, "", persistenceErr("stat", name, fmt.Errorf("point %s: missing collection", points[0].ID))
	}
	return m, coll, nil
}

// Load implements Backend.
func (q *Qdrant) Load(ctx context.Context, name string, opts ...vectorstore.Option) (*vectorstore.Store, Manifest, error) {
	m, coll, err := q.head(ctx, name)
	if err != nil {
		return nil, Manifest{}, err
	}

	type seqRecord struct {
		seq int64
		rec vectorstore.Record
	}
	rows := make([]seqRecord, 0, m.RecordCount)
	err = q.client.ScrollAll(ctx, coll, qdrantPageSize, func(points []*qdrant.Point) error {
		for _, p := range points {
			seq, rec, err := decodeRecordPoint(p)
			if err != nil {
				return err
			}
			rows = append(rows, seqRecord{seq: seq, rec: rec})
		}
		return nil
	})
	if err != nil {
		return nil, Manifest{}, persistenceErr("load", name, err)
	}
	if len(rows) != m.RecordCount {
		return nil, Manifest{}, persistenceErr("load", name,
			fmt.Errorf("manifest lists %d records, collection holds %d", m.RecordCount, len(rows)))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	records := make([]vectorstore.Record, len(rows))
	for i, r := range rows {
		records[i] = r.rec
	}
	st, err := vectorstore.New(opts...)
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := st.Insert(ctx, records); err != nil {
		return nil, Manifest{}, persistenceErr("load", name, err)
	}
	return st, m, nil
}

// Create implements Backend. The existence check and the manifest upsert
// are separate requests; the store manager serializes writers within a
// process.
func (q *Qdrant) Create(ctx context.Context, m Manifest, st *vectorstore.Store) error {
	m = manifestFor(m, st)
	if _, err := q.Stat(ctx, m.Name); err == nil {
		return collision(m.Name)
	} else if !errors.Is(err, ragerr.ErrStoreNotFound) {
		return err
	}
	return q.commit(ctx, "create", m, st, "")
}

// Replace implements Backend.
func (q *Qdrant) Replace(ctx context.Context, m Manifest, st *vectorstore.Store) error {
	m = manifestFor(m, st)
	_, previous, err := q.head(ctx, m.Name)
	if err != nil {
		return err
	}
	return q.commit(ctx, "replace", m, st, previous)
}

// commit uploads st and makes it current by upserting the manifest point.
// A failure before that upsert leaves the previous version in place; work
// after it only tidies up and logs on failure.
func (q *Qdrant) commit(ctx context.Context, op string, m Manifest, st *vectorstore.Store, previous string) error {
	coll, err := q.upload(ctx, m.Name, st)
	if err != nil {
		return err
	}
	if err := q.putManifest(ctx, m, coll); err != nil {
		q.dropCollection(ctx, coll)
		return persistenceErr(op, m.Name, err)
	}

	cleanup := context.WithoutCancel(ctx)
	alias := q.alias(m.Name)
	if err := q.client.PointAlias(cleanup, alias, coll, true); err != nil {
		q.logger.Warn(ctx, "failed to point store alias",
			zap.String("store.name", m.Name), zap.String("collection", coll), zap.Error(err))
	}
	if previous != "" {
		q.dropCollection(ctx, previous)
	}
	return nil
}

// Delete implements Backend.
func (q *Qdrant) Delete(ctx context.Context, name string) error {
	_, coll, err := q.head(ctx, name)
	if err != nil {
		return err
	}
	if err := q.client.Delete(ctx, q.manifests, []string{q.manifestID(name)}); err != nil {
		return persistenceErr("delete", name, err)
	}
	// The manifest is gone, so the store is deleted; what follows reclaims
	// space and only logs on failure.
	if err := q.client.DeleteAlias(context.WithoutCancel(ctx), q.alias(name)); err != nil {
		q.logger.Warn(ctx, "failed to delete store alias", zap.String("store.name", name), zap.Error(err))
	}
	q.dropCollection(ctx, coll)
	return nil
}

// Close implements Backend.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

// upload writes st into a fresh collection and returns its name. The
// collection is removed again if any write fails.
func (q *Qdrant) upload(ctx context.Context, name string, st *vectorstore.Store) (string, error) {
	coll := q.newCollectionName()
	size := uint64(st.Dimension())
	if size == 0 {
		size = 1
	}
	if err := q.client.CreateCollection(ctx, coll, size); err != nil {
		return "", persistenceErr("write", name, err)
	}

	records := st.Records()
	for start := 0; start < len(records); start += qdrantPageSize {
		end := min(start+qdrantPageSize, len(records))
		points := make([]*qdrant.Point, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, encodeRecordPoint(i, records[i]))
		}
		if err := q.client.Upsert(ctx, coll, points); err != nil {
			q.dropCollection(ctx, coll)
			return "", persistenceErr("write", name, err)
		}
	}
	return coll, nil
}

func (q *Qdrant) putManifest(ctx context.Context, m Manifest, coll string) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return q.client.Upsert(ctx, q.manifests, []*qdrant.Point{{
		ID:     q.manifestID(m.Name),
		Vector: []float32{1},
		Payload: map[string]interface{}{
			"name":       m.Name,
			"manifest":   string(raw),
			"collection": coll,
		},
	}})
}

// dropCollection removes a collection even when ctx is already cancelled.
func (q *Qdrant) dropCollection(ctx context.Context, coll string) {
	if err := q.client.DeleteCollection(context.WithoutCancel(ctx), coll); err != nil {
		q.logger.Warn(ctx, "failed to delete qdrant collection",
			zap.String("collection", coll), zap.Error(err))
	}
}

func encodeRecordPoint(seq int, r vectorstore.Record) *qdrant.Point {
	payload := map[string]interface{}{
		"seq":    seq,
		"text":   r.Text,
		"source": r.Source,
	}
	if !r.CreatedAt.IsZero() {
		payload["created_sec"] = r.CreatedAt.Unix()
		payload["created_nsec"] = int64(r.CreatedAt.Nanosecond())
	}
	return &qdrant.Point{ID: strconv.Itoa(seq), Vector: r.Vector, Payload: payload}
}

func decodeRecordPoint(p *qdrant.Point) (int64, vectorstore.Record, error) {
	seq, ok := p.Payload["seq"].(int64)
	if !ok {
		return 0, vectorstore.Record{}, fmt.Errorf("point %s: missing seq", p.ID)
	}
	text, _ := p.Payload["text"].(string)
	source, _ := p.Payload["source"].(string)
	r := vectorstore.Record{Text: text, Source: source, Vector: p.Vector}
	if sec, ok := p.Payload["created_sec"].(int64); ok {
		nsec, _ := p.Payload["created_nsec"].(int64)
		r.CreatedAt = time.Unix(sec, nsec).UTC()
	}
	return seq, r, nil
}

func decodeManifestPoint(p *qdrant.Point) (Manifest, error) {
	raw, ok := p.Payload["manifest"].(string)
	if !ok {
		return Manifest{}, fmt.Errorf("point %s: missing manifest", p.ID)
	}
	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Manifest{}, fmt.Errorf("point %s: %w", p.ID, err)
	}
	return m, nil
}
