// Package engine runs the pipeline's reads and writes on a DuckDB session.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"duck-etl/internal/ddl"
)

// S3Secret is the name of the DuckDB secret created for s3:// roots.
const S3Secret = "etl_s3"

// Options configures a DuckDB session.
type Options struct {
	Path        string // database file; empty for in-memory
	Threads     int    // 0 keeps the DuckDB default
	MemoryLimit string // e.g. "4GB"; empty keeps the DuckDB default
	S3          *S3Options
}

// S3Options holds the credentials DuckDB uses for s3:// paths.
type S3Options struct {
	KeyID    string
	Secret   string
	Endpoint string
	Region   string
	URLStyle string
}

// Open creates the DuckDB session shared by every stage of a run. When S3
// options are given, httpfs is loaded and an S3 secret is created.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("duckdb", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := configure(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("duckdb session ready",
		"path", displayPath(opts.Path),
		"threads", opts.Threads,
		"memory_limit", opts.MemoryLimit,
		"s3", opts.S3 != nil)
	return db, nil
}

func configure(ctx context.Context, db *sql.DB, opts Options) error {
	if opts.Threads > 0 {
		if err := setOption(ctx, db, "threads", opts.Threads); err != nil {
			return err
		}
	}
	if opts.MemoryLimit != "" {
		if err := setOption(ctx, db, "memory_limit", opts.MemoryLimit); err != nil {
			return err
		}
	}
	if opts.S3 == nil {
		return nil
	}
	if err := InstallExtensions(ctx, db); err != nil {
		return err
	}
	s3 := opts.S3
	return CreateS3Secret(ctx, db, S3Secret, s3.KeyID, s3.Secret, s3.Endpoint, s3.Region, s3.URLStyle)
}

func setOption(ctx context.Context, db *sql.DB, name string, value any) error {
	stmt, err := ddl.SetOption(name, value)
	if err != nil {
		return fmt.Errorf("build SET: %w", err)
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// InstallExtensions installs and loads the DuckDB extensions needed for
// remote object storage.
func InstallExtensions(ctx context.Context, db *sql.DB) error {
	for _, name := range []string{"httpfs"} {
		stmt, err := ddl.InstallExtension(name)
		if err != nil {
			return fmt.Errorf("build DDL: %w", err)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("extension setup (%s): %w", name, err)
		}
	}
	return nil
}

// CreateS3Secret creates a named DuckDB secret for S3-compatible storage.
func CreateS3Secret(ctx context.Context, db *sql.DB, name, keyID, secret, endpoint, region, urlStyle string) error {
	secretSQL, err := ddl.CreateS3Secret(name, keyID, secret, endpoint, region, urlStyle)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if _, err := db.ExecContext(ctx, secretSQL); err != nil {
		return fmt.Errorf("create S3 secret %q: %w", name, err)
	}
	return nil
}

// IsRemote reports whether path is served by httpfs rather than the local
// filesystem.
func IsRemote(path string) bool {
	for _, scheme := range []string{"s3://", "s3a://", "gs://", "http://", "https://"} {
		if strings.HasPrefix(path, scheme) {
			return true
		}
	}
	return false
}

func displayPath(p string) string {
	if p == "" {
		return ":memory:"
	}
	return p
}
