package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB opens an in-memory DuckDB session closed at cleanup.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), Options{Threads: 2}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_Settings(t *testing.T) {
	db, err := Open(context.Background(), Options{Threads: 3, MemoryLimit: "512MB"}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var threads string
	require.NoError(t, db.QueryRow("SELECT current_setting('threads')::VARCHAR").Scan(&threads))
	assert.Equal(t, "3", threads)
}

func TestOpen_InvalidMemoryLimit(t *testing.T) {
	_, err := Open(context.Background(), Options{MemoryLimit: "lots"}, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory_limit")
}

func TestIsRemote(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"s3://bucket/out", true},
		{"s3a://bucket/out", true},
		{"gs://bucket/out", true},
		{"https://example.com/data.csv", true},
		{"Output/songs", false},
		{"/data/s3://odd", false},
		{"", false},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRemote(tc.path))
		})
	}
}

func TestDisplayPath(t *testing.T) {
	assert.Equal(t, ":memory:", displayPath(""))
	assert.Equal(t, "etl.duckdb", displayPath("etl.duckdb"))
}
