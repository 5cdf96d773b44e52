package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-etl/internal/config"
	"duck-etl/internal/domain"
)

func TestServiceOptions(t *testing.T) {
	cfg := config.Default()
	cfg.InputRoot = "data"
	cfg.OutputRoot = "lake"
	cfg.S3.Bucket = "bucket"

	opts := ServiceOptions(cfg)
	assert.Equal(t, "US", opts.Country)
	assert.Equal(t, "1960-01-01", opts.Origin.Format("2006-01-02"))
	assert.Equal(t, domain.ReadSpec{
		Path:      "s3://bucket/data/us-cities-demographics.csv",
		Format:    domain.FormatCSV,
		Delimiter: ";",
		Header:    true,
	}, opts.Demographics)
	assert.Equal(t, "s3://bucket/lake/songs", opts.Facts.ReferencePath)
	assert.Equal(t, "s3://bucket/data/log_data/**/*.json", opts.Facts.Events.Path)
	assert.Equal(t, "page", opts.Facts.FilterColumn)
	assert.Equal(t, "NextSong", opts.Facts.FilterEquals)
	assert.Equal(t, domain.ModeOverwrite, opts.Facts.Mode)
	assert.Equal(t, []string{"song_id", "artist_id"}, opts.Facts.ReferenceColumns)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	writeFile(t, filepath.Join(in, "us-cities-demographics.csv"),
		"City;State;Median Age;Male Population;Female Population;Total Population;Number of Veterans;Foreign-born;Average Household Size;State Code;Race;Count\n"+
			"Austin;Texas;32.7;470000;460000;930000;41000;180000;2.5;TX;White;600000\n"+
			"Austin;Texas;32.7;470000;460000;930000;41000;180000;2.5;TX;Asian;70000\n"+
			"Nowhere;Unknown;40.0;10;10;20;1;0;2.0;;White;20\n")
	writeFile(t, filepath.Join(in, "airport-codes_csv.csv"),
		"ident,type,name,iso_country,iso_region\n"+
			"00A,heliport,Total Rf Heliport,US,US-PA\n"+
			"CYYZ,large_airport,Toronto Pearson,CA,CA-ON\n")
	writeFile(t, filepath.Join(in, "immigration_data_sample.csv"),
		"cicid,i94yr,i94mon,i94cit,i94res,i94visa,biryear,admnum,arrdate,depdate\n"+
			"1,2016.0,4.0,209.0,209.0,2.0,1955.0,55425679730.0,20545.0,20550.0\n"+
			"2,2016.0,4.0,101.0,101.0,1.0,abc,1,0,\n")

	cfg := config.Default()
	cfg.InputRoot = in
	cfg.OutputRoot = filepath.Join(dir, "out")
	cfg.Ledger.Path = filepath.Join(dir, "ledger", "runs.sqlite")
	cfg.Metrics.Textfile = filepath.Join(dir, "etl.prom")
	cfg.Workers = 2
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestApp_RunLocal(t *testing.T) {
	cfg := localConfig(t)
	ctx := context.Background()

	a, err := New(ctx, cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	summary, err := a.Run(ctx, []string{domain.StageDemographics, domain.StageAirports, domain.StageImmigration}, false)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, summary.Run.Status)

	out := cfg.OutputRoot
	for _, name := range []string{"states", "demographics", "airports", "immigration", "time"} {
		assert.FileExists(t, filepath.Join(out, name, domain.SuccessMarker), name)
	}
	assert.DirExists(t, filepath.Join(out, "immigration", "year=2016", "month=4"))
	assert.DirExists(t, filepath.Join(out, "time", "year=1960"))

	byStage := map[string]*domain.StageResult{}
	for _, sr := range summary.Stages {
		byStage[sr.Stage] = sr.Result
	}
	require.NotNil(t, byStage[domain.StageDemographics])
	assert.Equal(t, 1, byStage[domain.StageDemographics].RowsWritten["states"])
	assert.Equal(t, 1, byStage[domain.StageAirports].RowsWritten["airports"])
	assert.Equal(t, 2, byStage[domain.StageImmigration].RowsWritten["immigration"])
	assert.Equal(t, 3, byStage[domain.StageImmigration].RowsWritten["time"])

	prom, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "etl_rows_written_total")

	// no reference table has been written
	_, err = a.Run(ctx, []string{domain.StageFacts}, false)
	var missing *domain.UpstreamArtifactMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "songs", missing.Table)

	runs, closeRuns, err := OpenRuns(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeRuns() })
	list, err := runs.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.RunStatusFailed, list[0].Status)
}

func TestOpenRuns_MissingLedger(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "absent.sqlite")

	_, _, err := OpenRuns(cfg)
	require.ErrorIs(t, err, os.ErrNotExist)
}
