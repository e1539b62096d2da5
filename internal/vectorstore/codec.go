package vectorstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

// Encoding layout, all integers little-endian:
//
//	magic "RSVS" | version u16 | reserved u16 | dim u32 | count u64
//	count x ( created_sec i64 | created_nsec u32 | len u32 | text | len u32 | source | dim x f32 bits )
//
// Version 1 stored created_unix_nano i64 in place of the two time fields
// and is still decoded.
const (
	codecMagic   = "RSVS"
	codecVersion = 2

	zeroTime = math.MinInt64 // version 1 zero time
	maxField = 64 << 20
)

// ErrCorrupt is wrapped by Decode for malformed input.
var ErrCorrupt = errors.New("corrupt vector store encoding")

// Serialize encodes the store.
func (s *Store) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo implements io.WriterTo.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	var scratch [8]byte

	put16 := func(v uint16) {
		binary.LittleEndian.PutUint16(scratch[:2], v)
		_, _ = bw.Write(scratch[:2])
	}
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		_, _ = bw.Write(scratch[:4])
	}
	put64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:8], v)
		_, _ = bw.Write(scratch[:8])
	}
	putString := func(v string) {
		put32(uint32(len(v)))
		_, _ = bw.WriteString(v)
	}

	_, _ = bw.WriteString(codecMagic)
	put16(codecVersion)
	put16(0)
	put32(uint32(s.dim))
	put64(uint64(len(s.records)))

	for _, r := range s.records {
		put64(uint64(r.CreatedAt.Unix()))
		put32(uint32(r.CreatedAt.Nanosecond()))
		putString(r.Text)
		putString(r.Source)
		for _, f := range r.Vector {
			put32(math.Float32bits(f))
		}
	}

	// bufio.Writer keeps the first write error and returns it from Flush.
	err := bw.Flush()
	return cw.n, err
}

// Deserialize decodes data produced by Serialize.
func Deserialize(ctx context.Context, data []byte, opts ...Option) (*Store, error) {
	return Decode(ctx, bytes.NewReader(data), opts...)
}

// Decode reads a store encoded by WriteTo and rebuilds its index.
func Decode(ctx context.Context, r io.Reader, opts ...Option) (*Store, error) {
	br := bufio.NewReader(r)
	var scratch [8]byte

	read := func(n int) ([]byte, error) {
		if _, err := io.ReadFull(br, scratch[:n]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return scratch[:n], nil
	}
	readString := func() (string, error) {
		b, err := read(4)
		if err != nil {
			return "", err
		}
		n := binary.LittleEndian.Uint32(b)
		if n > maxField {
			return "", fmt.Errorf("%w: field length %d", ErrCorrupt, n)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return string(buf), nil
	}

	head := make([]byte, 20)
	if _, err := io.ReadFull(br, head); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if string(head[:4]) != codecMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, head[:4])
	}
	version := binary.LittleEndian.Uint16(head[4:6])
	if version != 1 && version != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	dim := int(binary.LittleEndian.Uint32(head[8:12]))
	count := binary.LittleEndian.Uint64(head[12:20])
	if count > 0 && dim == 0 {
		return nil, fmt.Errorf("%w: %d records without a dimension", ErrCorrupt, count)
	}
	if dim > MaxDimension {
		return nil, fmt.Errorf("%w: dimension %d exceeds %d", ErrCorrupt, dim, MaxDimension)
	}
	readTime := func() (time.Time, error) {
		b, err := read(8)
		if err != nil {
			return time.Time{}, err
		}
		ts := int64(binary.LittleEndian.Uint64(b))
		if version == 1 {
			if ts == zeroTime {
				return time.Time{}, nil
			}
			return time.Unix(0, ts).UTC(), nil
		}
		b, err = read(4)
		if err != nil {
			return time.Time{}, err
		}
		nsec := binary.LittleEndian.Uint32(b)
		if nsec >= uint32(time.Second) {
			return time.Time{}, fmt.Errorf("%w: nanoseconds %d", ErrCorrupt, nsec)
		}
		t := time.Unix(ts, int64(nsec)).UTC()
		if t.IsZero() {
			return time.Time{}, nil
		}
		return t, nil
	}

	records := make([]Record, 0, min(count, 1<<16))
	for i := uint64(0); i < count; i++ {
		created, err := readTime()
		if err != nil {
			return nil, err
		}
		text, err := readString()
		if err != nil {
			return nil, err
		}
		source, err := readString()
		if err != nil {
			return nil, err
		}
		vec := make([]float32, dim)
		for j := range vec {
			b, err := read(4)
			if err != nil {
				return nil, err
			}
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
		records = append(records, Record{Text: text, Vector: vec, Source: source, CreatedAt: created})
	}

	s, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := s.index.Add(ctx, 0, records); err != nil {
		return nil, fmt.Errorf("%w: rebuild index: %v", ragerr.ErrPersistence, err)
	}
	s.dim = dim
	s.records = records
	return s, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
