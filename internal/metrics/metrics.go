// Package metrics records per-run pipeline metrics in a dedicated Prometheus
// registry and exports them at the end of a run.
//
// Batch runs are short-lived, so nothing is scraped. The registry is written
// to a node-exporter textfile and/or pushed to a Pushgateway instead.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"duck-etl/internal/domain"
)

// Recorder holds the metrics of one run.
type Recorder struct {
	registry *prometheus.Registry

	RowsRead      *prometheus.CounterVec
	RowsWritten   *prometheus.CounterVec
	RowsDropped   *prometheus.CounterVec
	CellsNulled   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	LastSuccess   *prometheus.GaugeVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		RowsRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_rows_read_total",
				Help: "Rows read from sources and upstream tables",
			},
			[]string{"stage", "table"},
		),
		RowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_rows_written_total",
				Help: "Rows written to output tables",
			},
			[]string{"stage", "table"},
		),
		RowsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_rows_dropped_total",
				Help: "Rows removed by filters and deduplication",
			},
			[]string{"stage", "reason"},
		),
		CellsNulled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_cells_nulled_total",
				Help: "Cells set to null because the raw value did not parse",
			},
			[]string{"stage", "column"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etl_stage_duration_seconds",
				Help:    "Wall-clock duration of a stage",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"stage", "status"},
		),
		LastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "etl_stage_last_success_timestamp",
				Help: "Unix time of the last successful completion of a stage",
			},
			[]string{"stage"},
		),
	}
	reg.MustRegister(r.RowsRead, r.RowsWritten, r.RowsDropped, r.CellsNulled, r.StageDuration, r.LastSuccess)
	return r
}

// Registry returns the registry backing r.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveStage records the outcome of a stage. res may be nil for a failed
// stage.
func (r *Recorder) ObserveStage(stage, status string, took time.Duration, res *domain.StageResult) {
	r.StageDuration.WithLabelValues(stage, status).Observe(took.Seconds())
	if status == domain.StageStatusSuccess {
		r.LastSuccess.WithLabelValues(stage).SetToCurrentTime()
	}
	if res == nil {
		return
	}
	for table, n := range res.RowsRead {
		r.RowsRead.WithLabelValues(stage, table).Add(float64(n))
	}
	for table, n := range res.RowsWritten {
		r.RowsWritten.WithLabelValues(stage, table).Add(float64(n))
	}
	for reason, n := range res.RowsDropped {
		r.RowsDropped.WithLabelValues(stage, reason).Add(float64(n))
	}
	for column, n := range res.CellsNulled {
		r.CellsNulled.WithLabelValues(stage, column).Add(float64(n))
	}
}

// ExportConfig selects where Export sends the registry.
type ExportConfig struct {
	Textfile       string // node-exporter textfile path; empty to skip
	PushgatewayURL string // empty to skip
	Job            string
}

// Export writes the registry to every configured destination. All
// destinations are attempted; their errors are joined.
func (r *Recorder) Export(ctx context.Context, cfg ExportConfig) error {
	var errs []error
	if cfg.Textfile != "" {
		if err := prometheus.WriteToTextfile(cfg.Textfile, r.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	if cfg.PushgatewayURL != "" {
		job := cfg.Job
		if job == "" {
			job = "etl"
		}
		if err := push.New(cfg.PushgatewayURL, job).Gatherer(r.registry).PushContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("push metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}
