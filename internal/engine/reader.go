package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"duck-etl/internal/ddl"
	"duck-etl/internal/domain"
	"duck-etl/internal/table"
)

// Compile-time interface check.
var _ domain.TableReader = (*Reader)(nil)

// Reader reads csv, json and parquet sources through DuckDB. Every column is
// returned as a nullable string.
type Reader struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewReader creates a Reader on the given session.
func NewReader(db *sql.DB, logger *slog.Logger) *Reader {
	return &Reader{db: db, logger: logger}
}

// ReadTable scans spec.Path. A parquet path that names a directory is read
// recursively with hive partitioning, so tables written by Writer come back
// with their partition columns. Paths matching nothing fail with
// *domain.SourceNotFoundError.
func (r *Reader) ReadTable(ctx context.Context, spec domain.ReadSpec) (*table.Table, error) {
	path := spec.Path
	if spec.Format == domain.FormatParquet && !hasGlob(path) && !strings.HasSuffix(path, ".parquet") {
		path = strings.TrimRight(path, "/") + "/**/*.parquet"
	}

	if !IsRemote(path) {
		n, err := countMatches(path)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if spec.Format == domain.FormatParquet && hasSuccessMarker(spec.Path) {
				// A published table with no rows and no data files.
				r.logger.Debug("empty table", "path", spec.Path)
				return table.MustNew(), nil
			}
			return nil, domain.ErrSourceNotFound(spec.Path, "no files match")
		}
	}

	src := ddl.Source{Path: path, Format: spec.Format, Delimiter: spec.Delimiter, Header: spec.Header}
	names, err := r.describe(ctx, src)
	if err != nil {
		return nil, classifyDuckDBError(spec.Path, err)
	}
	t, err := r.scan(ctx, src, names)
	if err != nil {
		return nil, classifyDuckDBError(spec.Path, err)
	}
	r.logger.Debug("read table", "path", spec.Path, "format", spec.Format, "columns", len(names), "rows", t.Len())
	return t, nil
}

func (r *Reader) describe(ctx context.Context, src ddl.Source) ([]string, error) {
	q, err := ddl.DiscoverColumnsSQL(src)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		// DESCRIBE yields column_name, column_type, null, key, default, extra.
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		name, ok := vals[0].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected column name %v", vals[0])
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *Reader) scan(ctx context.Context, src ddl.Source, names []string) (*table.Table, error) {
	t, err := table.New(table.StringColumns(names...)...)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return t, nil
	}
	q, err := ddl.SelectAsVarcharSQL(src, names)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cells := make([]sql.NullString, len(names))
	ptrs := make([]any, len(names))
	for i := range cells {
		ptrs[i] = &cells[i]
	}
	vals := make([]any, len(names))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, c := range cells {
			if c.Valid {
				vals[i] = c.String
			} else {
				vals[i] = nil
			}
		}
		if err := t.Append(vals...); err != nil {
			return nil, err
		}
	}
	return t, rows.Err()
}

// classifyDuckDBError maps DuckDB file errors to domain errors.
func classifyDuckDBError(path string, err error) error {
	if err == nil {
		return nil
	}
	var notFound *domain.SourceNotFoundError
	if errors.As(err, &notFound) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "No files found"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "No such file"),
		strings.Contains(msg, "HTTP 404"):
		return domain.ErrSourceNotFound(path, msg)
	default:
		return fmt.Errorf("read %s: %w", path, err)
	}
}

func hasGlob(p string) bool { return strings.ContainsAny(p, "*?[{") }

func countMatches(p string) (int, error) {
	if !hasGlob(p) {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return 0, nil
			}
			return 0, fmt.Errorf("stat %s: %w", p, err)
		}
		return 1, nil
	}
	matches, err := doublestar.FilepathGlob(p)
	if err != nil {
		return 0, fmt.Errorf("glob %s: %w", p, err)
	}
	return len(matches), nil
}

func hasSuccessMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, domain.SuccessMarker))
	return err == nil
}
