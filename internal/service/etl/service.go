// Package etl implements the four pipeline stages and the runner that
// executes them in order.
package etl

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"duck-etl/internal/domain"
	"duck-etl/internal/table"
)

// Options carries the stage configuration. Paths are fully resolved.
type Options struct {
	Country string
	Origin  time.Time // epoch-day origin
	Workers int       // per-row evaluation parallelism; 0 means GOMAXPROCS

	Demographics domain.ReadSpec
	Airports     domain.ReadSpec
	Immigration  domain.ReadSpec
	Facts        FactsOptions
}

// FactsOptions configures fact assembly.
type FactsOptions struct {
	ReferencePath    string
	Events           domain.ReadSpec
	FilterColumn     string // empty disables the pre-filter
	FilterEquals     string
	EventKey         string
	ReferenceKey     string
	TimestampColumn  string
	EventColumns     []string
	ReferenceColumns []string
	OutputTable      string
	IDColumn         string
	Mode             domain.WriteMode
}

// Output table names.
const (
	TableStates       = "states"
	TableDemographics = "demographics"
	TableAirports     = "airports"
	TableImmigration  = "immigration"
	TableTime         = "time"
)

// StageFunc executes one stage.
type StageFunc func(ctx context.Context) (*domain.StageResult, error)

// Service runs the pipeline stages against a reader and a writer shared by
// every stage.
type Service struct {
	reader domain.TableReader
	writer domain.TableWriter
	opts   Options
	logger *slog.Logger
}

// NewService creates a new Service.
func NewService(reader domain.TableReader, writer domain.TableWriter, opts Options, logger *slog.Logger) *Service {
	return &Service{reader: reader, writer: writer, opts: opts, logger: logger}
}

// Stages returns the stage functions keyed by stage name.
func (s *Service) Stages() map[string]StageFunc {
	return map[string]StageFunc{
		domain.StageDemographics: s.Demographics,
		domain.StageAirports:     s.Airports,
		domain.StageImmigration:  s.Immigration,
		domain.StageFacts:        s.Facts,
	}
}

func (s *Service) read(ctx context.Context, res *domain.StageResult, name string, spec domain.ReadSpec) (*table.Table, error) {
	t, err := s.reader.ReadTable(ctx, spec)
	if err != nil {
		return nil, err
	}
	res.RowsRead[name] = t.Len()
	s.logger.Debug("table read", "stage", res.Stage, "name", name, "path", spec.Path, "rows", t.Len())
	return t, nil
}

func (s *Service) write(ctx context.Context, res *domain.StageResult, t *table.Table, spec domain.WriteSpec) error {
	out, err := s.writer.WriteTable(ctx, t, spec)
	if err != nil {
		return err
	}
	res.RowsWritten[spec.Name] = out.Rows
	res.Outputs[spec.Name] = out.Path
	return nil
}

// dropped records rows removed between two steps.
func dropped(res *domain.StageResult, reason string, before, after *table.Table) {
	if n := before.Len() - after.Len(); n > 0 {
		res.RowsDropped[reason] += n
	}
}

// counter counts cells nulled by a parse failure. It is shared by the
// goroutines evaluating one derivation.
type counter struct{ n atomic.Int64 }

func (c *counter) add(failed bool) {
	if failed {
		c.n.Add(1)
	}
}

func (c *counter) record(res *domain.StageResult, column string) {
	if n := int(c.n.Load()); n > 0 {
		res.CellsNulled[column] += n
	}
}

func mustColumn(t *table.Table, name string) (int, error) {
	j, ok := t.Index(name)
	if !ok {
		return 0, fmt.Errorf("column %q not found (have %v)", name, t.ColumnNames())
	}
	return j, nil
}
