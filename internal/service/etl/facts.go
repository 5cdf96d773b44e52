package etl

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"duck-etl/internal/domain"
	"duck-etl/internal/table"
	"duck-etl/internal/transform"
)

// Internal names of the join inputs, chosen so they cannot collide with
// configured columns.
const (
	joinEventKey     = "__event_key"
	joinReferenceKey = "__reference_key"
	joinTimestamp    = "__timestamp"
)

// Facts joins events to the reference table written by an earlier run and
// writes the output fact table numbered by start_time.
func (s *Service) Facts(ctx context.Context) (*domain.StageResult, error) {
	res := domain.NewStageResult(domain.StageFacts)
	fo := s.opts.Facts

	ref, err := s.read(ctx, res, "reference", domain.ReadSpec{Path: fo.ReferencePath, Format: domain.FormatParquet})
	if err != nil {
		var notFound *domain.SourceNotFoundError
		if errors.As(err, &notFound) {
			return nil, &domain.UpstreamArtifactMissingError{
				Table: referenceName(fo.ReferencePath),
				Path:  fo.ReferencePath,
				Err:   err,
			}
		}
		return nil, err
	}

	events, err := s.read(ctx, res, "events", fo.Events)
	if err != nil {
		return nil, err
	}
	if fo.FilterColumn != "" {
		filtered, err := events.Equals(fo.FilterColumn, fo.FilterEquals)
		if err != nil {
			return nil, err
		}
		dropped(res, "filtered", events, filtered)
		events = filtered
	}

	firstID, err := s.nextFactID(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.assembleFacts(ctx, res, events, ref, firstID)
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, res, out, domain.WriteSpec{
		Name:        fo.OutputTable,
		PartitionBy: []string{"year", "month"},
		Mode:        fo.Mode,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("Fact table assembled", "stage", res.Stage, "table", fo.OutputTable, "rows", out.Len(), "mode", fo.Mode)
	return res, nil
}

// factColumns is the output schema: id, start_time, event columns, reference
// columns, year, month.
func (s *Service) factColumns() []table.Column {
	fo := s.opts.Facts
	cols := []table.Column{
		{Name: fo.IDColumn, Type: table.Integer},
		{Name: "start_time", Type: table.Timestamp},
	}
	cols = append(cols, table.StringColumns(fo.EventColumns...)...)
	cols = append(cols, table.StringColumns(fo.ReferenceColumns...)...)
	return append(cols, table.Column{Name: "year", Type: table.Integer}, table.Column{Name: "month", Type: table.Integer})
}

func (s *Service) assembleFacts(ctx context.Context, res *domain.StageResult, events, ref *table.Table, firstID int64) (*table.Table, error) {
	fo := s.opts.Facts
	if len(ref.Columns()) == 0 {
		// the reference table was published empty
		return table.New(s.factColumns()...)
	}

	left := make([]table.Projection, 0, len(fo.EventColumns)+2)
	left = append(left, table.As(fo.EventKey, joinEventKey), table.As(fo.TimestampColumn, joinTimestamp))
	for _, c := range fo.EventColumns {
		left = append(left, table.As(c, c))
	}
	ev, err := events.Select(left...)
	if err != nil {
		return nil, err
	}

	right := make([]table.Projection, 0, len(fo.ReferenceColumns)+1)
	right = append(right, table.As(fo.ReferenceKey, joinReferenceKey))
	for _, c := range fo.ReferenceColumns {
		right = append(right, table.As(c, c))
	}
	rf, err := ref.Select(right...)
	if err != nil {
		return nil, err
	}

	joined, err := ev.InnerJoin(rf, joinEventKey, joinReferenceKey)
	if err != nil {
		return nil, err
	}
	dropped(res, "unmatched", ev, joined)

	ts, _ := joined.Index(joinTimestamp)
	nulled := &counter{}
	timed, err := joined.WithColumns(ctx, s.opts.Workers, table.Derivation{
		Column: table.Column{Name: "start_time", Type: table.Timestamp},
		Fn: func(r table.Row) any {
			v, failed := transform.TimestampCell(r[ts])
			nulled.add(failed)
			return v
		},
	})
	if err != nil {
		return nil, err
	}
	nulled.record(res, "start_time")

	numbered, err := timed.RowNumberFrom(fo.IDColumn, "start_time", firstID)
	if err != nil {
		return nil, err
	}

	st, _ := numbered.Index("start_time")
	dated, err := numbered.WithColumns(ctx, s.opts.Workers,
		table.Derivation{
			Column: table.Column{Name: "year", Type: table.Integer},
			Fn: func(r table.Row) any {
				if t, ok := r[st].(time.Time); ok {
					return int64(t.Year())
				}
				return nil
			},
		},
		table.Derivation{
			Column: table.Column{Name: "month", Type: table.Integer},
			Fn: func(r table.Row) any {
				if t, ok := r[st].(time.Time); ok {
					return int64(t.Month())
				}
				return nil
			},
		},
	)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(s.factColumns()))
	for _, c := range s.factColumns() {
		names = append(names, c.Name)
	}
	return dated.Project(names...)
}

// nextFactID is the first id to assign. Overwrite numbers from 1; append
// continues after the largest id already in the output table.
func (s *Service) nextFactID(ctx context.Context) (int64, error) {
	fo := s.opts.Facts
	if fo.Mode != domain.ModeAppend {
		return 1, nil
	}
	existing, err := s.reader.ReadTable(ctx, domain.ReadSpec{
		Path:   s.writer.TablePath(fo.OutputTable),
		Format: domain.FormatParquet,
	})
	if err != nil {
		var notFound *domain.SourceNotFoundError
		if errors.As(err, &notFound) {
			return 1, nil
		}
		return 0, fmt.Errorf("read existing %s: %w", fo.OutputTable, err)
	}
	if len(existing.Columns()) == 0 {
		return 1, nil
	}
	j, err := mustColumn(existing, fo.IDColumn)
	if err != nil {
		return 0, fmt.Errorf("existing %s: %w", fo.OutputTable, err)
	}
	var maxID int64
	for _, r := range existing.Rows() {
		var id int64
		switch v := r[j].(type) {
		case int64:
			id = v
		case string:
			n, ok := transform.ParseInteger(v)
			if !ok {
				continue
			}
			id = n
		default:
			continue
		}
		maxID = max(maxID, id)
	}
	return maxID + 1, nil
}

// referenceName is the table name a reference path points at.
func referenceName(p string) string {
	p = strings.TrimRight(strings.ReplaceAll(p, "\\", "/"), "/")
	return strings.TrimSuffix(path.Base(p), ".parquet")
}
