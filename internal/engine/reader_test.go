package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
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

func TestReader_CSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.csv")
	writeFile(t, path, "City;State Code;Median Age\nAustin;TX;32.7\nNowhere;;40\n")

	r := NewReader(openTestDB(t), slog.New(slog.DiscardHandler))
	tbl, err := r.ReadTable(context.Background(), domain.ReadSpec{Path: path, Format: domain.FormatCSV, Delimiter: ";", Header: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"City", "State Code", "Median Age"}, tbl.ColumnNames())
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "32.7", tbl.Value(0, "Median Age"), "values stay strings")
	assert.Equal(t, "40", tbl.Value(1, "Median Age"))
	assert.Nil(t, tbl.Value(1, "State Code"))
}

func TestReader_JSONGlob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "log_data", "2018", "11", "a.json"),
		`{"song":"Song A","ts":1541105830796,"page":"NextSong"}`+"\n"+
			`{"song":null,"ts":1541105830000,"page":"Home"}`+"\n")
	writeFile(t, filepath.Join(dir, "log_data", "2018", "12", "b.json"),
		`{"song":"Song B","ts":1541105830100,"page":"NextSong"}`+"\n")

	r := NewReader(openTestDB(t), slog.New(slog.DiscardHandler))
	tbl, err := r.ReadTable(context.Background(), domain.ReadSpec{
		Path:   filepath.Join(dir, "log_data", "**", "*.json"),
		Format: domain.FormatJSON,
	})
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	byTs := map[any]any{}
	for i := 0; i < tbl.Len(); i++ {
		byTs[tbl.Value(i, "ts")] = tbl.Value(i, "song")
	}
	assert.Equal(t, "Song A", byTs["1541105830796"])
	assert.Nil(t, byTs["1541105830000"])
}

func TestReader_NotFound(t *testing.T) {
	dir := t.TempDir()
	r := NewReader(openTestDB(t), slog.New(slog.DiscardHandler))

	tests := []struct {
		name string
		spec domain.ReadSpec
	}{
		{"missing file", domain.ReadSpec{Path: filepath.Join(dir, "absent.csv"), Format: domain.FormatCSV, Delimiter: ",", Header: true}},
		{"glob without matches", domain.ReadSpec{Path: filepath.Join(dir, "log_data", "**", "*.json"), Format: domain.FormatJSON}},
		{"missing table", domain.ReadSpec{Path: filepath.Join(dir, "songs"), Format: domain.FormatParquet}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.ReadTable(context.Background(), tc.spec)
			var notFound *domain.SourceNotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, tc.spec.Path, notFound.Path)
		})
	}
}

func TestReader_EmptyPublishedTable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "time")
	writeFile(t, filepath.Join(dir, domain.SuccessMarker), "")

	r := NewReader(openTestDB(t), slog.New(slog.DiscardHandler))
	tbl, err := r.ReadTable(context.Background(), domain.ReadSpec{Path: dir, Format: domain.FormatParquet})
	require.NoError(t, err)
	assert.Empty(t, tbl.Columns())
	assert.Zero(t, tbl.Len())
}

func TestClassifyDuckDBError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"no files", errors.New(`IO Error: No files found that match the pattern "x"`), true},
		{"missing", errors.New("IO Error: File x does not exist"), true},
		{"http", errors.New("HTTP Error: HTTP GET error on 'x' (HTTP 404)"), true},
		{"other", errors.New("Invalid Input Error: bad csv"), false},
		{"already classified", domain.ErrSourceNotFound("x", ""), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyDuckDBError("x", tc.err)
			var notFound *domain.SourceNotFoundError
			assert.Equal(t, tc.notFound, errors.As(err, &notFound))
			if !tc.notFound {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}
	assert.NoError(t, classifyDuckDBError("x", nil))
}
