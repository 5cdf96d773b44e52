// Package app wires the pipeline from a loaded configuration: one DuckDB
// session, the reader and writer built on it, the run ledger and the
// metrics recorder.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"duck-etl/internal/config"
	"duck-etl/internal/db"
	"duck-etl/internal/db/repository"
	"duck-etl/internal/domain"
	"duck-etl/internal/engine"
	"duck-etl/internal/metrics"
	"duck-etl/internal/service/etl"
	"duck-etl/internal/storage"
)

// defaultRegion is used for S3 clients when only an endpoint is configured.
const defaultRegion = "us-east-1"

// App holds the fully-wired pipeline for one invocation.
type App struct {
	Runner  *etl.Runner
	Runs    *repository.RunRepo
	Metrics *metrics.Recorder

	cfg    *config.Config
	duckDB *sql.DB
	ledger *sql.DB
	logger *slog.Logger
}

// New opens the DuckDB session and the ledger and wires every stage. The
// caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	var s3 *engine.S3Options
	if cfg.UsesS3() {
		s3 = &engine.S3Options{
			KeyID:    cfg.S3.KeyID,
			Secret:   cfg.S3.Secret,
			Endpoint: cfg.S3.Endpoint,
			Region:   cfg.S3.Region,
			URLStyle: cfg.S3.URLStyle,
		}
	}
	duckDB, err := engine.Open(ctx, engine.Options{
		Path:        cfg.DuckDB.Path,
		Threads:     cfg.DuckDB.Threads,
		MemoryLimit: cfg.DuckDB.MemoryLimit,
		S3:          s3,
	}, logger)
	if err != nil {
		return nil, err
	}

	ledger, err := db.OpenLedger(cfg.Ledger.Path)
	if err != nil {
		_ = duckDB.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// === Sink ===
	outputRoot := cfg.ResolvedOutputRoot()
	reader := engine.NewReader(duckDB, logger)
	writer := engine.NewWriter(duckDB, newPublisher(cfg, logger), engine.WriterOptions{
		OutputRoot: outputRoot,
		StagingDir: cfg.StagingDir(),
		Workers:    cfg.Workers,
	}, logger)

	// === Pipeline ===
	svc := etl.NewService(reader, writer, ServiceOptions(cfg), logger)
	runs := repository.NewRunRepo(ledger)
	rec := metrics.New()

	logger.Debug("pipeline wired", "input_root", cfg.ResolvedInputRoot(), "output_root", outputRoot, "s3", s3 != nil)
	return &App{
		Runner:  etl.NewRunner(svc.Stages(), runs, rec, logger),
		Runs:    runs,
		Metrics: rec,
		cfg:     cfg,
		duckDB:  duckDB,
		ledger:  ledger,
		logger:  logger,
	}, nil
}

func newPublisher(cfg *config.Config, logger *slog.Logger) domain.Publisher {
	if !config.IsRemote(cfg.ResolvedOutputRoot()) {
		return storage.NewLocalPublisher(logger)
	}
	region := cfg.S3.Region
	if region == "" {
		region = defaultRegion
	}
	return storage.NewS3Publisher(storage.S3Config{
		KeyID:    cfg.S3.KeyID,
		Secret:   cfg.S3.Secret,
		Endpoint: cfg.S3.Endpoint,
		Region:   region,
		URLStyle: cfg.S3.URLStyle,
	}, logger)
}

// ServiceOptions converts cfg into stage options with every path resolved.
func ServiceOptions(cfg *config.Config) etl.Options {
	source := func(s config.SourceConfig) domain.ReadSpec {
		return domain.ReadSpec{
			Path:      cfg.SourcePath(s.Path),
			Format:    s.Format,
			Delimiter: s.Delimiter,
			Header:    s.Header,
		}
	}
	f := cfg.Facts
	return etl.Options{
		Country:      cfg.Country,
		Origin:       cfg.Origin(),
		Workers:      cfg.Workers,
		Demographics: source(cfg.Sources.Demographics),
		Airports:     source(cfg.Sources.Airports),
		Immigration:  source(cfg.Sources.Immigration),
		Facts: etl.FactsOptions{
			ReferencePath:    cfg.ReferencePath(),
			Events:           source(f.Events),
			FilterColumn:     f.EventFilter.Column,
			FilterEquals:     f.EventFilter.Equals,
			EventKey:         f.EventKey,
			ReferenceKey:     f.ReferenceKey,
			TimestampColumn:  f.TimestampColumn,
			EventColumns:     f.EventColumns,
			ReferenceColumns: f.ReferenceColumns,
			OutputTable:      f.OutputTable,
			IDColumn:         f.IDColumn,
			Mode:             domain.WriteMode(f.Mode),
		},
	}
}

// Run executes the selected stages and exports the run metrics. A failed
// export is logged and does not change the result of the run.
func (a *App) Run(ctx context.Context, stages []string, resume bool) (*etl.RunSummary, error) {
	summary, err := a.Runner.Run(ctx, etl.RunRequest{
		Stages:     stages,
		Resume:     resume,
		InputRoot:  a.cfg.ResolvedInputRoot(),
		OutputRoot: a.cfg.ResolvedOutputRoot(),
	})
	exportErr := a.Metrics.Export(context.WithoutCancel(ctx), metrics.ExportConfig{
		Textfile:       a.cfg.Metrics.Textfile,
		PushgatewayURL: a.cfg.Metrics.PushgatewayURL,
		Job:            a.cfg.Metrics.Job,
	})
	if exportErr != nil {
		a.logger.Warn("metrics export failed", "error", exportErr)
	}
	return summary, err
}

// Close releases the DuckDB session and the ledger.
func (a *App) Close() error {
	return errors.Join(a.duckDB.Close(), a.ledger.Close())
}

// OpenRuns opens the ledger read-only for the history commands. The
// returned function closes it.
func OpenRuns(cfg *config.Config) (*repository.RunRepo, func() error, error) {
	ledger, err := db.OpenLedgerReader(cfg.Ledger.Path)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewRunRepo(ledger), ledger.Close, nil
}
