package backend

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/vectorstore"
)

// Store file layout: magic "RSTF" | version u32 | manifest length u32 |
// manifest JSON | vectorstore encoding.
const (
	fsMagic      = "RSTF"
	fsVersion    = 1
	fsExt        = ".rstore"
	// fsTmpMarker contains '#', which url.PathEscape always escapes, so no
	// store file name can contain it.
	fsTmpMarker  = "#tmp-"
	maxManifest  = 1 << 20
	fsHeaderSize = 12
)

// FS keeps one file per store in a directory. Writes go to a temporary
// file in the same directory which is synced and then renamed (replace) or
// hard-linked (create) into place.
type FS struct {
	dir    string
	logger *logging.Logger
}

// NewFS opens dir, creating it if needed, and removes temporary files left
// by interrupted writes.
func NewFS(dir string, logger *logging.Logger) (*FS, error) {
	if dir == "" {
		return nil, persistenceErr("open", dir, errors.New("empty directory"))
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, persistenceErr("open", dir, err)
	}
	f := &FS{dir: dir, logger: logger}
	f.removeStaleTemp()
	return f, nil
}

func (f *FS) removeStaleTemp() {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), fsTmpMarker) {
			path := filepath.Join(f.dir, e.Name())
			if err := os.Remove(path); err == nil {
				f.logger.Info(context.Background(), "removed stale temporary file", zap.String("path", path))
			}
		}
	}
}

func (f *FS) path(name string) string {
	return filepath.Join(f.dir, url.PathEscape(name)+fsExt)
}

// List implements Backend.
func (f *FS) List(ctx context.Context) ([]Manifest, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, persistenceErr("list", f.dir, err)
	}
	out := make([]Manifest, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), fsExt) {
			continue
		}
		m, err := f.readManifest(filepath.Join(f.dir, e.Name()))
		if err != nil {
			// A store deleted between ReadDir and open is simply gone.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, persistenceErr("list", e.Name(), err)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stat implements Backend.
func (f *FS) Stat(_ context.Context, name string) (Manifest, error) {
	m, err := f.readManifest(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, notFound(name)
	}
	if err != nil {
		return Manifest{}, persistenceErr("stat", name, err)
	}
	return m, nil
}

func (f *FS) readManifest(path string) (Manifest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Manifest{}, err
	}
	defer file.Close()
	return readHeader(bufio.NewReader(file))
}

func readHeader(r io.Reader) (Manifest, error) {
	var head [fsHeaderSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Manifest{}, fmt.Errorf("read header: %w", err)
	}
	if string(head[:4]) != fsMagic {
		return Manifest{}, fmt.Errorf("bad magic %q", head[:4])
	}
	if v := binary.LittleEndian.Uint32(head[4:8]); v != fsVersion {
		return Manifest{}, fmt.Errorf("unsupported version %d", v)
	}
	n := binary.LittleEndian.Uint32(head[8:12])
	if n > maxManifest {
		return Manifest{}, fmt.Errorf("manifest length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Load implements Backend.
func (f *FS) Load(ctx context.Context, name string, opts ...vectorstore.Option) (*vectorstore.Store, Manifest, error) {
	file, err := os.Open(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Manifest{}, notFound(name)
	}
	if err != nil {
		return nil, Manifest{}, persistenceErr("load", name, err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	m, err := readHeader(r)
	if err != nil {
		return nil, Manifest{}, persistenceErr("load", name, err)
	}
	s, err := vectorstore.Decode(ctx, r, opts...)
	if err != nil {
		return nil, Manifest{}, persistenceErr("load", name, err)
	}
	if s.Len() != m.RecordCount || s.Dimension() != m.Dimension {
		return nil, Manifest{}, persistenceErr("load", name,
			fmt.Errorf("manifest says %d records of dimension %d, payload has %d of %d",
				m.RecordCount, m.Dimension, s.Len(), s.Dimension()))
	}
	return s, m, nil
}

// Create implements Backend.
func (f *FS) Create(ctx context.Context, m Manifest, s *vectorstore.Store) error {
	tmp, err := f.writeTemp(ctx, manifestFor(m, s), s)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := ctx.Err(); err != nil {
		return err
	}
	// Link fails if the target exists, which makes create exclusive.
	if err := os.Link(tmp, f.path(m.Name)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return collision(m.Name)
		}
		return persistenceErr("create", m.Name, err)
	}
	return syncDir(f.dir)
}

// Replace implements Backend.
func (f *FS) Replace(ctx context.Context, m Manifest, s *vectorstore.Store) error {
	target := f.path(m.Name)
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		return notFound(m.Name)
	}
	tmp, err := f.writeTemp(ctx, manifestFor(m, s), s)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return persistenceErr("replace", m.Name, err)
	}
	return syncDir(f.dir)
}

// Delete implements Backend.
func (f *FS) Delete(_ context.Context, name string) error {
	err := os.Remove(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(name)
	}
	if err != nil {
		return persistenceErr("delete", name, err)
	}
	return syncDir(f.dir)
}

// Close implements Backend.
func (f *FS) Close() error {
	return nil
}

// writeTemp writes the complete store file to a fresh temporary path and
// syncs it. On error nothing is left behind.
func (f *FS) writeTemp(ctx context.Context, m Manifest, s *vectorstore.Store) (_ string, err error) {
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", persistenceErr("write", m.Name, err)
	}
	tmp := f.path(m.Name) + fsTmpMarker + hex.EncodeToString(suffix[:])

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", persistenceErr("write", m.Name, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = persistenceErr("write", m.Name, cerr)
		}
		if err != nil {
			os.Remove(tmp)
		}
	}()

	manifest, err := json.Marshal(m)
	if err != nil {
		return "", persistenceErr("write", m.Name, err)
	}
	w := bufio.NewWriter(file)
	var head [fsHeaderSize]byte
	copy(head[:4], fsMagic)
	binary.LittleEndian.PutUint32(head[4:8], fsVersion)
	binary.LittleEndian.PutUint32(head[8:12], uint32(len(manifest)))
	if _, err := w.Write(head[:]); err != nil {
		return "", persistenceErr("write", m.Name, err)
	}
	if _, err := w.Write(manifest); err != nil {
		return "", persistenceErr("write", m.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := s.WriteTo(w); err != nil {
		return "", persistenceErr("write", m.Name, err)
	}
	if err := w.Flush(); err != nil {
		return "", persistenceErr("write", m.Name, err)
	}
	if err := file.Sync(); err != nil {
		return "", persistenceErr("sync", m.Name, err)
	}
	return tmp, nil
}

// syncDir makes a rename or unlink durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return persistenceErr("sync", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return persistenceErr("sync", dir, err)
	}
	return nil
}
