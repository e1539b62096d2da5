package backend

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/vectorstore"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stores (
    name     TEXT PRIMARY KEY,
    manifest TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
    store        TEXT    NOT NULL,
    seq          INTEGER NOT NULL,
    text         TEXT    NOT NULL,
    source       TEXT    NOT NULL,
    created_sec  INTEGER,
    created_nsec INTEGER,
    vector       BLOB    NOT NULL,
    PRIMARY KEY (store, seq)
);
`

// SQLite keeps manifests and records in two tables. Every write runs in one
// transaction, so a replaced store is swapped in at commit.
type SQLite struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLite opens or creates the database file at path.
func NewSQLite(ctx context.Context, path string, logger *logging.Logger) (*SQLite, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, persistenceErr("open", path, err)
		}
	}
	dsn := sqliteDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, persistenceErr("open", path, err)
	}
	// One writer at a time; SQLite would otherwise answer SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, persistenceErr("open", path, err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

// List implements Backend.
func (s *SQLite) List(ctx context.Context) ([]Manifest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT manifest FROM stores ORDER BY name`)
	if err != nil {
		return nil, s.wrap(ctx, "list", "", err)
	}
	defer rows.Close()

	out := []Manifest{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, s.wrap(ctx, "list", "", err)
		}
		var m Manifest
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, persistenceErr("list", "", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(ctx, "list", "", err)
	}
	return out, nil
}

// Stat implements Backend.
func (s *SQLite) Stat(ctx context.Context, name string) (Manifest, error) {
	return s.stat(ctx, s.db, name)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) stat(ctx context.Context, q queryer, name string) (Manifest, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT manifest FROM stores WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Manifest{}, notFound(name)
	}
	if err != nil {
		return Manifest{}, s.wrap(ctx, "stat", name, err)
	}
	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Manifest{}, persistenceErr("stat", name, err)
	}
	return m, nil
}

// Load implements Backend.
func (s *SQLite) Load(ctx context.Context, name string, opts ...vectorstore.Option) (*vectorstore.Store, Manifest, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, Manifest{}, s.wrap(ctx, "load", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	m, err := s.stat(ctx, tx, name)
	if err != nil {
		return nil, Manifest{}, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT text, source, created_sec, created_nsec, vector FROM records WHERE store = ? ORDER BY seq`, name)
	if err != nil {
		return nil, Manifest{}, s.wrap(ctx, "load", name, err)
	}
	defer rows.Close()

	records := make([]vectorstore.Record, 0, m.RecordCount)
	for rows.Next() {
		var (
			r         vectorstore.Record
			sec, nsec sql.NullInt64
			blob      []byte
		)
		if err := rows.Scan(&r.Text, &r.Source, &sec, &nsec, &blob); err != nil {
			return nil, Manifest{}, s.wrap(ctx, "load", name, err)
		}
		if r.Vector, err = decodeVector(blob); err != nil {
			return nil, Manifest{}, persistenceErr("load", name, err)
		}
		if sec.Valid {
			r.CreatedAt = time.Unix(sec.Int64, nsec.Int64).UTC()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, Manifest{}, s.wrap(ctx, "load", name, err)
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

// Create implements Backend.
func (s *SQLite) Create(ctx context.Context, m Manifest, st *vectorstore.Store) error {
	return s.write(ctx, "create", manifestFor(m, st), st)
}

// Replace implements Backend.
func (s *SQLite) Replace(ctx context.Context, m Manifest, st *vectorstore.Store) error {
	return s.write(ctx, "replace", manifestFor(m, st), st)
}

func (s *SQLite) write(ctx context.Context, op string, m Manifest, st *vectorstore.Store) error {
	manifest, err := json.Marshal(m)
	if err != nil {
		return persistenceErr(op, m.Name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(ctx, op, m.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	var res sql.Result
	if op == "create" {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO stores(name, manifest) VALUES(?, ?) ON CONFLICT(name) DO NOTHING`, m.Name, string(manifest))
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE stores SET manifest = ? WHERE name = ?`, string(manifest), m.Name)
	}
	if err != nil {
		return s.wrap(ctx, op, m.Name, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return s.wrap(ctx, op, m.Name, err)
	} else if n == 0 {
		if op == "create" {
			return collision(m.Name)
		}
		return notFound(m.Name)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE store = ?`, m.Name); err != nil {
		return s.wrap(ctx, op, m.Name, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records(store, seq, text, source, created_sec, created_nsec, vector) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return s.wrap(ctx, op, m.Name, err)
	}
	defer stmt.Close()

	for i, r := range st.Records() {
		var sec, nsec sql.NullInt64
		if !r.CreatedAt.IsZero() {
			sec = sql.NullInt64{Int64: r.CreatedAt.Unix(), Valid: true}
			nsec = sql.NullInt64{Int64: int64(r.CreatedAt.Nanosecond()), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, i, r.Text, r.Source, sec, nsec, encodeVector(r.Vector)); err != nil {
			return s.wrap(ctx, op, m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.wrap(ctx, op, m.Name, err)
	}
	return nil
}

// Delete implements Backend.
func (s *SQLite) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(ctx, "delete", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM stores WHERE name = ?`, name)
	if err != nil {
		return s.wrap(ctx, "delete", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE store = ?`, name); err != nil {
		return s.wrap(ctx, "delete", name, err)
	}
	if err := tx.Commit(); err != nil {
		return s.wrap(ctx, "delete", name, err)
	}
	return nil
}

// sqliteDSN builds a file URI for path. The path is percent-encoded so
// '?', '#' and '%' in directory or file names are not read as URI syntax.
func sqliteDSN(path string) string {
	u := url.URL{
		Scheme:   "file",
		OmitHost: true,
		Path:     filepath.ToSlash(path),
		RawQuery: "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
	}
	return u.String()
}

// Close implements Backend.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// wrap reports the context error when the driver failed because ctx ended.
func (s *SQLite) wrap(ctx context.Context, op, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return persistenceErr(op, name, err)
}

// encodeVector stores float32 values as a little-endian blob; the length
// is implied by the blob size.
func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
