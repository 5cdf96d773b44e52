package testutil

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"duck-etl/internal/domain"
	"duck-etl/internal/table"
)

// === In-memory Sink ===

// MemorySink implements domain.TableReader and domain.TableWriter in memory.
// Written tables are kept per partition and read back the way DuckDB's hive
// reader returns them: every cell as a string, nulls preserved, data columns
// in written order followed by the partition columns sorted by name.
// Sources registered with AddSource are returned as given.
type MemorySink struct {
	Root string // output root; defaults to "mem://out"

	// WriteErrFn, when set, is consulted before every write.
	WriteErrFn func(spec domain.WriteSpec) error

	mu      sync.Mutex
	sources map[string]*table.Table
	tables  map[string]*memTable
	writes  []domain.WriteSpec
}

type memTable struct {
	columns []table.Column // data columns, without partition keys
	keys    []string
	order   []string // partition paths in first-write order
	parts   map[string]*memPartition
}

type memPartition struct {
	values []any
	rows   []table.Row
}

var (
	_ domain.TableReader = (*MemorySink)(nil)
	_ domain.TableWriter = (*MemorySink)(nil)
)

// NewMemorySink returns an empty sink rooted at "mem://out".
func NewMemorySink() *MemorySink {
	return &MemorySink{
		Root:    "mem://out",
		sources: map[string]*table.Table{},
		tables:  map[string]*memTable{},
	}
}

// AddSource registers t as the content of path.
func (s *MemorySink) AddSource(path string, t *table.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[path] = t
}

// Writes returns the write specs received so far, in order.
func (s *MemorySink) Writes() []domain.WriteSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.WriteSpec(nil), s.writes...)
}

// Partitions returns the partition paths currently stored for a table.
func (s *MemorySink) Partitions(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	mt, ok := s.tables[name]
	if !ok {
		return nil
	}
	return append([]string(nil), mt.order...)
}

// Has reports whether a table named name has been written.
func (s *MemorySink) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[name]
	return ok
}

// TablePath implements domain.TableWriter.
func (s *MemorySink) TablePath(name string) string {
	return strings.TrimRight(s.Root, "/") + "/" + name
}

// WriteTable implements domain.TableWriter.
func (s *MemorySink) WriteTable(_ context.Context, t *table.Table, spec domain.WriteSpec) (*domain.WriteResult, error) {
	if s.WriteErrFn != nil {
		if err := s.WriteErrFn(spec); err != nil {
			return nil, &domain.SinkWriteError{Table: spec.Name, Err: err}
		}
	}
	parts, err := t.PartitionBy(spec.PartitionBy...)
	if err != nil {
		return nil, &domain.SinkWriteError{Table: spec.Name, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, spec)

	mt, ok := s.tables[spec.Name]
	if !ok {
		mt = &memTable{keys: spec.PartitionBy, parts: map[string]*memPartition{}}
		s.tables[spec.Name] = mt
	}
	if len(parts) > 0 {
		mt.columns = parts[0].Table.Columns()
	}
	if len(spec.PartitionBy) == 0 && spec.Mode != domain.ModeAppend {
		mt.order, mt.parts = nil, map[string]*memPartition{}
	}

	var paths []string
	for _, p := range parts {
		path := p.Path()
		paths = append(paths, path)
		existing, ok := mt.parts[path]
		if !ok || spec.Mode != domain.ModeAppend {
			if !ok {
				mt.order = append(mt.order, path)
			}
			existing = &memPartition{values: p.Values}
			mt.parts[path] = existing
		}
		existing.rows = append(existing.rows, p.Table.Rows()...)
	}

	res := &domain.WriteResult{Path: s.TablePath(spec.Name), Rows: t.Len()}
	if len(spec.PartitionBy) > 0 {
		res.Partitions = paths
	}
	return res, nil
}

// ReadTable implements domain.TableReader.
func (s *MemorySink) ReadTable(_ context.Context, spec domain.ReadSpec) (*table.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.sources[spec.Path]; ok {
		return t, nil
	}
	for name, mt := range s.tables {
		if strings.TrimRight(spec.Path, "/") == s.TablePath(name) {
			return mt.readBack()
		}
	}
	return nil, domain.ErrSourceNotFound(spec.Path, "no files match")
}

func (mt *memTable) readBack() (*table.Table, error) {
	if len(mt.order) == 0 {
		// only the success marker was published
		return table.New()
	}
	// keyOrder[i] is the position in mt.keys of the i-th key by name
	keyOrder := make([]int, len(mt.keys))
	for i := range keyOrder {
		keyOrder[i] = i
	}
	sort.SliceStable(keyOrder, func(a, b int) bool { return mt.keys[keyOrder[a]] < mt.keys[keyOrder[b]] })

	names := make([]string, 0, len(mt.columns)+len(mt.keys))
	for _, c := range mt.columns {
		names = append(names, c.Name)
	}
	for _, k := range keyOrder {
		names = append(names, mt.keys[k])
	}
	out, err := table.New(table.StringColumns(names...)...)
	if err != nil {
		return nil, err
	}
	for _, path := range mt.order {
		p := mt.parts[path]
		for _, r := range p.rows {
			row := make([]any, 0, len(names))
			for _, v := range r {
				row = append(row, Stringify(v))
			}
			for _, k := range keyOrder {
				v := p.values[k]
				if v == nil {
					row = append(row, nil)
					continue
				}
				row = append(row, table.PartitionValue(v))
			}
			if err := out.Append(row...); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Stringify renders a typed cell the way the parquet reader returns it.
func Stringify(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format("2006-01-02 15:04:05.999999")
	}
	return v
}
