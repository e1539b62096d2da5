package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/vectorstore"
)

var (
	bucketStores = []byte("stores")
	keyManifest  = []byte("manifest")
	keyData      = []byte("data")
)

// Bolt keeps all stores in one bbolt file: a nested bucket per store under
// "stores", holding the manifest and the encoded records. Each write is a
// single transaction.
type Bolt struct {
	db     *bbolt.DB
	logger *logging.Logger
}

// NewBolt opens or creates the database file at path.
func NewBolt(path string, logger *logging.Logger) (*Bolt, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, persistenceErr("open", path, err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, persistenceErr("open", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStores)
		return err
	})
	if err != nil {
		db.Close()
		return nil, persistenceErr("open", path, err)
	}
	return &Bolt{db: db, logger: logger}, nil
}

// List implements Backend. bbolt iterates keys in byte order, which is the
// name order.
func (b *Bolt) List(_ context.Context) ([]Manifest, error) {
	var out []Manifest
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStores).ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			m, err := decodeManifest(tx.Bucket(bucketStores).Bucket(k))
			if err != nil {
				return fmt.Errorf("store %q: %w", k, err)
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, persistenceErr("list", "", err)
	}
	if out == nil {
		out = []Manifest{}
	}
	return out, nil
}

// Stat implements Backend.
func (b *Bolt) Stat(_ context.Context, name string) (Manifest, error) {
	var m Manifest
	err := b.db.View(func(tx *bbolt.Tx) error {
		sb := tx.Bucket(bucketStores).Bucket([]byte(name))
		if sb == nil {
			return notFound(name)
		}
		var err error
		m, err = decodeManifest(sb)
		return err
	})
	if err != nil {
		return Manifest{}, b.wrap("stat", name, err)
	}
	return m, nil
}

// Load implements Backend.
func (b *Bolt) Load(ctx context.Context, name string, opts ...vectorstore.Option) (*vectorstore.Store, Manifest, error) {
	var (
		m    Manifest
		data []byte
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		sb := tx.Bucket(bucketStores).Bucket([]byte(name))
		if sb == nil {
			return notFound(name)
		}
		var err error
		if m, err = decodeManifest(sb); err != nil {
			return err
		}
		// Values are only valid inside the transaction.
		data = bytes.Clone(sb.Get(keyData))
		return nil
	})
	if err != nil {
		return nil, Manifest{}, b.wrap("load", name, err)
	}

	s, err := vectorstore.Deserialize(ctx, data, opts...)
	if err != nil {
		return nil, Manifest{}, persistenceErr("load", name, err)
	}
	return s, m, nil
}

// Create implements Backend.
func (b *Bolt) Create(ctx context.Context, m Manifest, s *vectorstore.Store) error {
	manifest, data, err := encodeBolt(manifestFor(m, s), s)
	if err != nil {
		return persistenceErr("create", m.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		sb, err := tx.Bucket(bucketStores).CreateBucket([]byte(m.Name))
		if errors.Is(err, bbolt.ErrBucketExists) {
			return collision(m.Name)
		}
		if err != nil {
			return err
		}
		return putStore(sb, manifest, data)
	})
	return b.wrap("create", m.Name, err)
}

// Replace implements Backend.
func (b *Bolt) Replace(ctx context.Context, m Manifest, s *vectorstore.Store) error {
	manifest, data, err := encodeBolt(manifestFor(m, s), s)
	if err != nil {
		return persistenceErr("replace", m.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		sb := tx.Bucket(bucketStores).Bucket([]byte(m.Name))
		if sb == nil {
			return notFound(m.Name)
		}
		return putStore(sb, manifest, data)
	})
	return b.wrap("replace", m.Name, err)
}

// Delete implements Backend.
func (b *Bolt) Delete(_ context.Context, name string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketStores).DeleteBucket([]byte(name))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return notFound(name)
		}
		return err
	})
	return b.wrap("delete", name, err)
}

// Close implements Backend.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// wrap passes taxonomy errors raised inside a transaction through and
// wraps everything else as a persistence failure.
func (b *Bolt) wrap(op, name string, err error) error {
	if err == nil || isTaxonomy(err) {
		return err
	}
	return persistenceErr(op, name, err)
}

func encodeBolt(m Manifest, s *vectorstore.Store) ([]byte, []byte, error) {
	manifest, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.Serialize()
	if err != nil {
		return nil, nil, err
	}
	return manifest, data, nil
}

func putStore(sb *bbolt.Bucket, manifest, data []byte) error {
	if err := sb.Put(keyManifest, manifest); err != nil {
		return err
	}
	return sb.Put(keyData, data)
}

func decodeManifest(sb *bbolt.Bucket) (Manifest, error) {
	var m Manifest
	raw := sb.Get(keyManifest)
	if raw == nil {
		return m, errors.New("missing manifest")
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
