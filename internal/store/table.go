package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/stellarlinkco/chatcounter/internal/ident"
)

// RowError describes a row that could not be loaded. It matches
// ErrMalformedRow with errors.Is.
type RowError struct {
	Path string
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *RowError) Unwrap() []error {
	return []error{ErrMalformedRow, e.Err}
}

// codec maps one record type to its CSV columns.
type codec[K comparable, R any] struct {
	header []string
	encode func(*R) []string
	decode func(csvRow) (R, error)
	key    func(*R) K
	rowID  func(*R) uint64
}

// csvRow gives by-name access to one CSV record.
type csvRow struct {
	cols map[string]int
	vals []string
}

func (r csvRow) str(name string) (string, error) {
	i, ok := r.cols[name]
	if !ok || i >= len(r.vals) {
		return "", fmt.Errorf("missing column %q", name)
	}
	return r.vals[i], nil
}

func (r csvRow) nonEmpty(name string) (string, error) {
	v, err := r.str(name)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("empty column %q", name)
	}
	return v, nil
}

func (r csvRow) uint(name string) (uint64, error) {
	v, err := r.str(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", name, err)
	}
	return n, nil
}

func (r csvRow) bool(name string) (bool, error) {
	v, err := r.str(name)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("column %q: invalid boolean %q", name, v)
}

// TableStats summarizes one table load.
type TableStats struct {
	Path    string
	Loaded  int
	Skipped []*RowError
}

// table is one keyed, CSV-backed record set with its own row id allocator.
type table[K comparable, R any] struct {
	path  string
	codec codec[K, R]
	rows  map[K]*R
	ids   *ident.Allocator
}

func newTable[K comparable, R any](path string, c codec[K, R]) *table[K, R] {
	return &table[K, R]{
		path:  path,
		codec: c,
		rows:  make(map[K]*R),
		ids:   ident.NewAllocator(0),
	}
}

// load reads the table file, creating it with a header if it does not exist.
// Malformed rows are skipped and reported; only parsed rows feed the allocator.
func (t *table[K, R]) load() (TableStats, error) {
	stats := TableStats{Path: t.path}

	f, err := os.Open(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return stats, fmt.Errorf("open %s: %w", t.path, err)
		}
		if err := t.flush(); err != nil {
			return stats, fmt.Errorf("create %s: %w", t.path, err)
		}
		return stats, nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("read header of %s: %w", t.path, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range t.codec.header {
		if _, ok := cols[name]; !ok {
			return stats, fmt.Errorf("%s: header missing column %q", t.path, name)
		}
	}

	for {
		vals, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return stats, fmt.Errorf("read %s: %w", t.path, err)
			}
			stats.Skipped = append(stats.Skipped, &RowError{Path: t.path, Line: perr.Line, Err: perr.Err})
			continue
		}
		line, _ := r.FieldPos(0)
		if len(vals) != len(header) {
			stats.Skipped = append(stats.Skipped, &RowError{
				Path: t.path,
				Line: line,
				Err:  fmt.Errorf("got %d fields, want %d", len(vals), len(header)),
			})
			continue
		}

		rec, err := t.codec.decode(csvRow{cols: cols, vals: vals})
		if err != nil {
			stats.Skipped = append(stats.Skipped, &RowError{Path: t.path, Line: line, Err: err})
			continue
		}
		key := t.codec.key(&rec)
		if _, dup := t.rows[key]; dup {
			stats.Skipped = append(stats.Skipped, &RowError{Path: t.path, Line: line, Err: ErrDuplicateKey})
			continue
		}
		t.rows[key] = &rec
		t.ids.Observe(t.codec.rowID(&rec))
		stats.Loaded++
	}
	return stats, nil
}

// flush rewrites the whole table through a temp file and a rename.
func (t *table[K, R]) flush() error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("create table dir: %w", err)
	}

	tmp := t.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}

	if err := t.write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", t.path, err)
	}
	return nil
}

func (t *table[K, R]) write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.codec.header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range t.ordered() {
		if err := cw.Write(t.codec.encode(rec)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	return nil
}

// ordered returns the records sorted by row id.
func (t *table[K, R]) ordered() []*R {
	out := make([]*R, 0, len(t.rows))
	for _, rec := range t.rows {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b *R) int {
		ai, bi := t.codec.rowID(a), t.codec.rowID(b)
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	})
	return out
}

// snapshot copies every record in row id order.
func (t *table[K, R]) snapshot() []R {
	ordered := t.ordered()
	out := make([]R, len(ordered))
	for i, rec := range ordered {
		out[i] = *rec
	}
	return out
}
