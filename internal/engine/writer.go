package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"duck-etl/internal/ddl"
	"duck-etl/internal/domain"
	"duck-etl/internal/table"
)

// Compile-time interface check.
var _ domain.TableWriter = (*Writer)(nil)

// WriterOptions configures a Writer.
type WriterOptions struct {
	OutputRoot  string
	StagingDir  string // local scratch directory for encoded partitions
	Workers     int    // partitions encoded concurrently; 0 means 1
	Compression string // parquet compression; empty means zstd
}

// Writer encodes tables as hive-partitioned parquet. Each partition is bulk
// loaded into a temp table through the DuckDB appender and exported with
// COPY into a staging directory; the staged partitions are then handed to a
// Publisher.
type Writer struct {
	db        *sql.DB
	publisher domain.Publisher
	opts      WriterOptions
	logger    *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(db *sql.DB, publisher domain.Publisher, opts WriterOptions, logger *slog.Logger) *Writer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Writer{db: db, publisher: publisher, opts: opts, logger: logger}
}

// TablePath returns the location of a table under the output root.
func (w *Writer) TablePath(name string) string {
	return joinPath(w.opts.OutputRoot, name)
}

// WriteTable stages and publishes t. Overwrite replaces only the partitions
// present in t, or the whole table when it is unpartitioned. Any failure is
// returned as *domain.SinkWriteError and leaves the published table untouched.
func (w *Writer) WriteTable(ctx context.Context, t *table.Table, spec domain.WriteSpec) (*domain.WriteResult, error) {
	if err := ddl.ValidateIdentifier(spec.Name); err != nil {
		return nil, &domain.SinkWriteError{Table: spec.Name, Err: fmt.Errorf("invalid table name: %w", err)}
	}
	mode := spec.Mode
	if mode == "" {
		mode = domain.ModeOverwrite
	}
	parts, err := t.PartitionBy(spec.PartitionBy...)
	if err != nil {
		return nil, &domain.SinkWriteError{Table: spec.Name, Err: err}
	}

	stagedDir := filepath.Join(w.opts.StagingDir, spec.Name+"-"+uuid.NewString())
	if err := os.MkdirAll(stagedDir, 0o755); err != nil {
		return nil, &domain.SinkWriteError{Table: spec.Name, Err: fmt.Errorf("create staging dir: %w", err)}
	}
	defer func() { _ = os.RemoveAll(stagedDir) }()

	paths := make([]string, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Workers)
	for i, p := range parts {
		paths[i] = p.Path()
		g.Go(func() error {
			dir := filepath.Join(stagedDir, filepath.FromSlash(p.Path()))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return &domain.SinkWriteError{Table: spec.Name, Partition: p.Path(), Err: err}
			}
			file := filepath.Join(dir, "part-"+uuid.NewString()+".parquet")
			if err := w.encode(gctx, p.Table, file); err != nil {
				return &domain.SinkWriteError{Table: spec.Name, Partition: p.Path(), Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tablePath := w.TablePath(spec.Name)
	if err := w.publisher.Publish(ctx, stagedDir, tablePath, paths, mode); err != nil {
		return nil, &domain.SinkWriteError{Table: spec.Name, Err: fmt.Errorf("publish: %w", err)}
	}

	var partitions []string
	if len(spec.PartitionBy) > 0 {
		partitions = paths
	}
	w.logger.Info("table written",
		"table", spec.Name,
		"path", tablePath,
		"rows", t.Len(),
		"partitions", len(partitions),
		"mode", string(mode))
	return &domain.WriteResult{Path: tablePath, Rows: t.Len(), Partitions: partitions}, nil
}

// encode writes t to a single parquet file on a dedicated connection, since
// temp tables are scoped to the connection that created them.
func (w *Writer) encode(ctx context.Context, t *table.Table, file string) error {
	cols := t.Columns()
	if len(cols) == 0 {
		return fmt.Errorf("table has no data columns")
	}
	defs := make([]ddl.ColumnDef, len(cols))
	for i, c := range cols {
		defs[i] = ddl.ColumnDef{Name: c.Name, Type: duckType(c.Type)}
	}

	conn, err := w.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	tmp := "stage_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	createSQL, err := ddl.CreateTempTable(tmp, defs)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if _, err := conn.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	dropSQL, _ := ddl.DropTable(tmp)
	defer func() { _, _ = conn.ExecContext(context.WithoutCancel(ctx), dropSQL) }()

	err = conn.Raw(func(raw any) error {
		driverConn, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected raw conn type %T", raw)
		}
		appender, err := duckdb.NewAppenderFromConn(driverConn, "", tmp)
		if err != nil {
			return fmt.Errorf("create appender: %w", err)
		}
		vals := make([]driver.Value, len(cols))
		for i, row := range t.Rows() {
			for j, v := range row {
				vals[j] = v
			}
			if err := appender.AppendRow(vals...); err != nil {
				_ = appender.Close()
				return fmt.Errorf("append row %d: %w", i, err)
			}
		}
		if err := appender.Close(); err != nil {
			return fmt.Errorf("flush appender: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	copySQL, err := ddl.CopyToParquet(tmp, file, w.opts.Compression)
	if err != nil {
		return fmt.Errorf("build COPY: %w", err)
	}
	if _, err := conn.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("copy to parquet: %w", err)
	}
	return nil
}

func duckType(t table.Type) string {
	switch t {
	case table.Integer:
		return "BIGINT"
	case table.Date:
		return "DATE"
	case table.Timestamp:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

// joinPath joins a local path or a URL-style root with a table name.
func joinPath(root, name string) string {
	if IsRemote(root) {
		return strings.TrimRight(root, "/") + "/" + name
	}
	return filepath.Join(root, name)
}
