package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-etl/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// listFiles returns the files under root as slash-separated relative paths.
func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, p)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func TestLocalPublisher_OverwriteUnpartitioned(t *testing.T) {
	root := t.TempDir()
	tablePath := filepath.Join(root, "states")
	writeFile(t, filepath.Join(tablePath, "part-old.parquet"), "old")

	staged := filepath.Join(root, "_staging", "s1")
	writeFile(t, filepath.Join(staged, "part-new.parquet"), "new")

	p := NewLocalPublisher(slog.New(slog.DiscardHandler))
	require.NoError(t, p.Publish(context.Background(), staged, tablePath, []string{""}, domain.ModeOverwrite))

	assert.Equal(t, []string{"_SUCCESS", "part-new.parquet"}, listFiles(t, tablePath))
	assert.NoDirExists(t, staged)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".trash", "trash directory left behind")
	}
}

func TestLocalPublisher_OverwriteReplacesOnlyWrittenPartitions(t *testing.T) {
	root := t.TempDir()
	tablePath := filepath.Join(root, "immigration")
	writeFile(t, filepath.Join(tablePath, "year=2016", "month=4", "part-old.parquet"), "old")
	writeFile(t, filepath.Join(tablePath, "year=2016", "month=5", "part-keep.parquet"), "keep")

	staged := filepath.Join(root, "_staging", "s2")
	writeFile(t, filepath.Join(staged, "year=2016", "month=4", "part-a.parquet"), "a")
	writeFile(t, filepath.Join(staged, "year=2017", "month=1", "part-b.parquet"), "b")

	p := NewLocalPublisher(slog.New(slog.DiscardHandler))
	err := p.Publish(context.Background(), staged, tablePath,
		[]string{"year=2016/month=4", "year=2017/month=1"}, domain.ModeOverwrite)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"_SUCCESS",
		"year=2016/month=4/part-a.parquet",
		"year=2016/month=5/part-keep.parquet",
		"year=2017/month=1/part-b.parquet",
	}, listFiles(t, tablePath))
}

func TestLocalPublisher_Append(t *testing.T) {
	root := t.TempDir()
	tablePath := filepath.Join(root, "songplays")
	writeFile(t, filepath.Join(tablePath, "year=2018", "month=11", "part-1.parquet"), "1")

	staged := filepath.Join(root, "_staging", "s3")
	writeFile(t, filepath.Join(staged, "year=2018", "month=11", "part-2.parquet"), "2")

	p := NewLocalPublisher(slog.New(slog.DiscardHandler))
	require.NoError(t, p.Publish(context.Background(), staged, tablePath, []string{"year=2018/month=11"}, domain.ModeAppend))

	assert.Equal(t, []string{
		"_SUCCESS",
		"year=2018/month=11/part-1.parquet",
		"year=2018/month=11/part-2.parquet",
	}, listFiles(t, tablePath))
}

func TestLocalPublisher_NoPartitions(t *testing.T) {
	root := t.TempDir()
	tablePath := filepath.Join(root, "time")
	staged := filepath.Join(root, "_staging", "s4")
	require.NoError(t, os.MkdirAll(staged, 0o755))

	p := NewLocalPublisher(slog.New(slog.DiscardHandler))
	require.NoError(t, p.Publish(context.Background(), staged, tablePath, nil, domain.ModeOverwrite))
	assert.Equal(t, []string{"_SUCCESS"}, listFiles(t, tablePath))
}

func TestLocalPublisher_MissingStagedPartition(t *testing.T) {
	root := t.TempDir()
	tablePath := filepath.Join(root, "airports")
	writeFile(t, filepath.Join(tablePath, "k=1", "part-old.parquet"), "old")

	p := NewLocalPublisher(slog.New(slog.DiscardHandler))
	err := p.Publish(context.Background(), filepath.Join(root, "nope"), tablePath, []string{"k=1"}, domain.ModeOverwrite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `partition "k=1"`)

	// the previous data is restored
	assert.FileExists(t, filepath.Join(tablePath, "k=1", "part-old.parquet"))
}

func TestLocalPublisher_Cancelled(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewLocalPublisher(slog.New(slog.DiscardHandler))
	err := p.Publish(ctx, root, filepath.Join(root, "t"), []string{""}, domain.ModeOverwrite)
	require.ErrorIs(t, err, context.Canceled)
}
