package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
	"github.com/fyrsmithlabs/ragstore/internal/vectorstore"
)

// factory opens a backend rooted in dir. Calling it again with the same
// dir reopens the same data.
type factory func(t *testing.T, dir string) Backend

func factories() map[string]factory {
	return map[string]factory{
		KindFS: func(t *testing.T, dir string) Backend {
			b, err := NewFS(filepath.Join(dir, "stores"), logging.Nop())
			require.NoError(t, err)
			return b
		},
		KindBolt: func(t *testing.T, dir string) Backend {
			b, err := NewBolt(filepath.Join(dir, "stores.db"), logging.Nop())
			require.NoError(t, err)
			return b
		},
		KindSQLite: func(t *testing.T, dir string) Backend {
			b, err := NewSQLite(context.Background(), filepath.Join(dir, "stores.sqlite"), logging.Nop())
			require.NoError(t, err)
			return b
		},
		KindQdrant: qdrantFactory(),
	}
}

// qdrantFactory shares one in-memory server per test directory so reopen
// sees earlier writes.
func qdrantFactory() factory {
	var (
		mu      sync.Mutex
		servers = map[string]*memQdrant{}
	)
	return func(t *testing.T, dir string) Backend {
		mu.Lock()
		srv, ok := servers[dir]
		if !ok {
			srv = newMemQdrant()
			servers[dir] = srv
		}
		mu.Unlock()
		b, err := newQdrant(context.Background(), srv, "test", logging.Nop())
		require.NoError(t, err)
		return b
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, open factory)) {
	for name, open := range factories() {
		open := open
		t.Run(name, func(t *testing.T) {
			fn(t, open)
		})
	}
}

var created = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleStore(t *testing.T, texts ...string) *vectorstore.Store {
	t.Helper()
	s, err := vectorstore.New()
	require.NoError(t, err)
	records := make([]vectorstore.Record, len(texts))
	for i, text := range texts {
		records[i] = vectorstore.Record{
			Text:      text,
			Vector:    []float32{float32(i + 1), 0.5, -1},
			Source:    "doc-" + text,
			CreatedAt: created.Add(time.Duration(i) * time.Second),
		}
	}
	require.NoError(t, s.Insert(context.Background(), records))
	return s
}

func manifest(name string) Manifest {
	return Manifest{Name: name, CreatedAt: created, UpdatedAt: created, Revision: "r1"}
}

func loadTexts(t *testing.T, b Backend, name string) []string {
	t.Helper()
	s, _, err := b.Load(context.Background(), name)
	require.NoError(t, err)
	var out []string
	for _, r := range s.Records() {
		out = append(out, r.Text)
	}
	return out
}

func TestBackend_EmptyNamespace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open factory) {
		b := open(t, t.TempDir())
		defer b.Close()

		list, err := b.List(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, list)
		assert.Empty(t, list)
	})
}

func TestBackend_CreateLoadRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open factory) {
		ctx := context.Background()
		b := open(t, t.TempDir())
		defer b.Close()

		src := sampleStore(t, "alpha", "beta", "gamma")
		require.NoError(t, b.Create(ctx, manifest("docs"), src))

		st, m, err := b.Load(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, "docs", m.Name)
		assert.Equal(t, 3, m.RecordCount)
		assert.Equal(t, 3, m.Dimension)
		assert.Equal(t, "r1", m.Revision)
		assert.True(t, created.Equal(m.CreatedAt))
		assert.Equal(t, src.Records(), st.Records())

		stat, err := b.Stat(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, m, stat)
	})
}

func TestBackend_LoadWithChromemIndex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open factory) {
		ctx := context.Background()
		b := open(t, t.TempDir())
		defer b.Close()

		require.NoError(t, b.Create(ctx, manifest("docs"), sampleStore(t, "a", "b")))
		st, _, err := b.Load(ctx, "docs", vectorstore.WithIndex(vectorstore.IndexChromem))
		require.NoError(t, err)
		assert.Equal(t, vectorstore.IndexChromem, st.IndexKind())

		res, err := st.Search(ctx, []float32{2, 0.5, -1}, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "b", res[0].Record.Text)
	})
}

func TestBackend_CreateCollision(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open factory) {
		ctx := context.Background()
		b := open(t, t.TempDir())
		defer b.Close()

		require.NoError(t, b.Create(ctx, manifest("docs"), sampleStore(t, "first")))
		err := b.Create(ctx, manifest("docs"), sampleStore(t, "second"))
		assert.ErrorIs(t, err, ragerr.ErrNameCollision)
		assert.Equal(t, []string{"first"}, loadTexts(t, b, "docs"))
	})
}

func TestBackend_ReplaceSwapsContent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open factory) {
		ctx := context.Background()
		b := open(t, t.TempDir())
		defer b.Close()

		require.NoError(t, b.Create(ctx, manifest("docs"), sampleStore(t, "old")))

		next := manifest("docs")
		next.Revision = "r2"
		next.UpdatedAt = created.Add(time.Hour)
		require.NoError(t, b.Replace(ctx, next, sampleStore(t, "old", "new")))

		assert.Equal(t, []string{"old", "new"}, loadTexts(t, b, "docs"))
		m, err := b.Stat(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, "r2", m.Revision)
		assert.Equal(t, 2, m.RecordCount)
		assert.True(t, next.UpdatedAt.Equal(m.UpdatedAt))
	})
}

func TestBackend_ReplaceMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open factory) {
		b := open(t, t.TempDir())
		defer b.Close()

		err := b.Replace(context.Background(), manifest("ghost"), sampleStore(t, "x"))
		assert.ErrorIs(t, err, ragerr.ErrStoreNotFound)

		_, err = b.Stat(context.Background(), "ghost")
		assert.ErrorIs(t, err, ragerr.ErrStoreNotFound)
	})
}

func TestBackend_Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open factory) {
		ctx := context.Background()
		b := open(t, t.TempDir())
		defer b.Close()

		require.NoError(t, b.Create(ctx, manifest("a"), sampleStore(t, "x")))
		require.NoError(t, b.Create(ctx, manifest("b"), sampleStore(t, "y")))
		require.NoError(t, b.Delete(ctx, "a"))

		_, _, err := b.Load(ctx, "a")
		assert.ErrorIs(t, err, ragerr.ErrStoreNotFound)
		assert.ErrorIs(t, b.Delete(ctx, "a"), ragerr.ErrStoreNotFound)

		list, err := b.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "b", list[0].Name)

		// The name is free again.
		require.NoError(t, b.Create(ctx, manifest("a"), sampleStore(t, "z")))
		assert.Equal(t, []string{"z"}, loadTexts(t, b, "a"))
	})
}

func TestBackend_ListSortedWithUnusualNames(t *testing.T) {
	names := []string{"vectorstore(2)", "näme with space", "a/b\\c", "vectorstore", "..", "émoji 🙂"}
	forEachBackend(t, func(t *testing.T, open factory) {
		ctx := context.Background()
		b := open(t, t.TempDir())
		defer b.Close()

		for _, n := range names {
			require.NoError(t, b.Create(ctx, manifest(n), sampleStore(t, n)), n)
		}

		list, err := b.List(ctx)
		require.NoError(t, err)
		got := make([]string, len(list))
		for i, m := range list {
			got[i] = m.Name
		}
		assert.Equal(t, []string{"..", "a/b\\c", "näme with space", "vectorstore", "vectorstore(2)", "émoji 🙂"}, got)

		for _, n := range names {
			assert.Equal(t, []string{n}, loadTexts(t, b, n))
		}
	})
}

func TestBackend_Reopen(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open factory) {
		ctx := context.Background()
		dir := t.TempDir()

		b := open(t, dir)
		require.NoError(t, b.Create(ctx, manifest("docs"), sampleStore(t, "persisted")))
		require.NoError(t, b.Close())

		b = open(t, dir)
		defer b.Close()
		assert.Equal(t, []string{"persisted"}, loadTexts(t, b, "docs"))
	})
}

func TestBackend_NamesResemblingTempFilesSurviveReopen(t *testing.T) {
	names := []string{"notes.tmp.v2(1)", "a#tmp-1", "x.rstore"}
	forEachBackend(t, func(t *testing.T, open factory) {
		ctx := context.Background()
		dir := t.TempDir()

		b := open(t, dir)
		for _, n := range names {
			require.NoError(t, b.Create(ctx, manifest(n), sampleStore(t, n)), n)
		}
		list, err := b.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, len(names))
		require.NoError(t, b.Close())

		b = open(t, dir)
		defer b.Close()
		list, err = b.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, len(names))
		for _, n := range names {
			assert.Equal(t, []string{n}, loadTexts(t, b, n))
		}
	})
}

func TestBackend_TimesOutsideUnixNanoRange(t *testing.T) {
	times := []time.Time{
		time.Date(2500, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1600, 6, 15, 8, 30, 0, 123456789, time.UTC),
	}
	forEachBackend(t, func(t *testing.T, open factory) {
		ctx := context.Background()
		dir := t.TempDir()
		b := open(t, dir)

		st, err := vectorstore.New()
		require.NoError(t, err)
		records := make([]vectorstore.Record, len(times))
		for i, ts := range times {
			records[i] = vectorstore.Record{Text: ts.String(), Vector: []float32{1, float32(i)}, CreatedAt: ts}
		}
		require.NoError(t, st.Insert(ctx, records))
		require.NoError(t, b.Create(ctx, manifest("old-and-new"), st))
		require.NoError(t, b.Close())

		b = open(t, dir)
		defer b.Close()
		got, _, err := b.Load(ctx, "old-and-new")
		require.NoError(t, err)
		for i, r := range got.Records() {
			assert.Equal(t, times[i], r.CreatedAt)
		}
	})
}

func TestBackend_CancelledWriteKeepsPrevious(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open factory) {
		b := open(t, t.TempDir())
		defer b.Close()

		require.NoError(t, b.Create(context.Background(), manifest("docs"), sampleStore(t, "v1")))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := b.Replace(ctx, manifest("docs"), sampleStore(t, "v1", "v2"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

		err = b.Create(ctx, manifest("other"), sampleStore(t, "x"))
		require.Error(t, err)

		assert.Equal(t, []string{"v1"}, loadTexts(t, b, "docs"))
		_, err = b.Stat(context.Background(), "other")
		assert.ErrorIs(t, err, ragerr.ErrStoreNotFound)
	})
}

func TestBackend_ConcurrentReaders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open factory) {
		ctx := context.Background()
		b := open(t, t.TempDir())
		defer b.Close()

		require.NoError(t, b.Create(ctx, manifest("docs"), sampleStore(t, "a", "b")))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, _, err := b.Load(ctx, "docs")
				if assert.NoError(t, err) {
					assert.Equal(t, 2, s.Len())
				}
			}()
		}
		wg.Wait()
	})
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "plain", input: "vectorstore(3)"},
		{name: "unicode", input: "données"},
		{name: "max length", input: strings.Repeat("x", maxNameLen)},
		{name: "empty", input: "", wantErr: true},
		{name: "too long", input: strings.Repeat("x", maxNameLen+1), wantErr: true},
		{name: "invalid utf8", input: "bad\xff", wantErr: true},
		{name: "control character", input: "tab\tname", wantErr: true},
		{name: "newline", input: "line\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ragerr.ErrInvalidParameter)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.StoreConfig
		want    interface{}
		wantErr error
	}{
		{name: "default is fs", cfg: config.StoreConfig{Path: filepath.Join(dir, "fs")}, want: &FS{}},
		{name: "bolt", cfg: config.StoreConfig{Backend: KindBolt, Path: filepath.Join(dir, "b.db")}, want: &Bolt{}},
		{name: "sqlite", cfg: config.StoreConfig{Backend: KindSQLite, Path: filepath.Join(dir, "s.sqlite")}, want: &SQLite{}},
		{name: "unknown", cfg: config.StoreConfig{Backend: "redis"}, wantErr: ragerr.ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(context.Background(), tt.cfg, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer b.Close()
			assert.IsType(t, tt.want, b)
		})
	}
}

func TestOpen_QdrantIntegration(t *testing.T) {
	host := os.Getenv("RAGSTORE_TEST_QDRANT_HOST")
	if host == "" {
		t.Skip("RAGSTORE_TEST_QDRANT_HOST not set")
	}
	ctx := context.Background()
	b, err := Open(ctx, config.StoreConfig{
		Backend: KindQdrant,
		Qdrant:  config.QdrantConfig{Host: host, Port: 6334, Prefix: "ragstore_it_" + time.Now().Format("150405")},
	}, logging.Nop())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Create(ctx, manifest("it"), sampleStore(t, "one", "two")))
	defer b.Delete(ctx, "it")
	require.NoError(t, b.Replace(ctx, manifest("it"), sampleStore(t, "three")))
	assert.Equal(t, []string{"three"}, loadTexts(t, b, "it"))
}
