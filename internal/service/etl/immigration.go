package etl

import (
	"context"
	"errors"
	"time"

	"duck-etl/internal/domain"
	"duck-etl/internal/table"
	"duck-etl/internal/transform"
)

// integerColumns maps the coerced immigration source columns to their output
// names.
var integerColumns = []table.Projection{
	table.As("i94yr", "year"),
	table.As("i94mon", "month"),
	table.As("i94cit", "citizenship_country"),
	table.As("i94res", "residence_country"),
	table.As("i94visa", "visa_category"),
	table.As("biryear", "birth_year"),
	table.As("admnum", "admission_number"),
}

// epochColumns maps the epoch-day source columns to the derived date columns.
var epochColumns = []table.Projection{
	table.As("arrdate", "arrival_date"),
	table.As("depdate", "departure_date"),
}

// timeColumns is the schema of the time dimension.
var timeColumns = []table.Column{
	{Name: "date", Type: table.Date},
	{Name: "year", Type: table.Integer},
	{Name: "month", Type: table.Integer},
	{Name: "day", Type: table.Integer},
	{Name: "week_of_year", Type: table.Integer},
	{Name: "weekday", Type: table.Integer},
}

// Immigration builds the immigration fact table, then derives the time
// dimension from the table as written.
func (s *Service) Immigration(ctx context.Context) (*domain.StageResult, error) {
	res := domain.NewStageResult(domain.StageImmigration)

	raw, err := s.read(ctx, res, "immigration_source", s.opts.Immigration)
	if err != nil {
		return nil, err
	}
	facts, err := s.cleanImmigration(ctx, res, raw)
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, res, facts, domain.WriteSpec{
		Name:        TableImmigration,
		PartitionBy: []string{"year", "month"},
		Mode:        domain.ModeOverwrite,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("Immigration fact populated", "stage", res.Stage, "rows", facts.Len())

	written, err := s.read(ctx, res, TableImmigration, domain.ReadSpec{
		Path:   s.writer.TablePath(TableImmigration),
		Format: domain.FormatParquet,
	})
	if err != nil {
		var notFound *domain.SourceNotFoundError
		if errors.As(err, &notFound) {
			return nil, &domain.UpstreamArtifactMissingError{Table: TableImmigration, Path: notFound.Path, Err: err}
		}
		return nil, err
	}
	dates, err := s.timeDimension(ctx, written)
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, res, dates, domain.WriteSpec{
		Name:        TableTime,
		PartitionBy: []string{"year"},
		Mode:        domain.ModeOverwrite,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("Time dimension populated", "stage", res.Stage, "rows", dates.Len())
	return res, nil
}

// cleanImmigration coerces the integer columns, derives the dates and removes
// duplicate rows. Unparsable cells become null and are counted.
func (s *Service) cleanImmigration(ctx context.Context, res *domain.StageResult, raw *table.Table) (*table.Table, error) {
	renames := make(map[string]string, len(integerColumns))
	for _, p := range integerColumns {
		renames[p.From] = p.As
	}
	renamed, err := raw.Rename(renames)
	if err != nil {
		return nil, err
	}

	ds := make([]table.Derivation, 0, len(integerColumns)+len(epochColumns))
	counters := make(map[string]*counter, cap(ds))
	for _, p := range integerColumns {
		j, err := mustColumn(renamed, p.As)
		if err != nil {
			return nil, err
		}
		c := &counter{}
		counters[p.As] = c
		ds = append(ds, table.Derivation{
			Column: table.Column{Name: p.As, Type: table.Integer},
			Fn: func(r table.Row) any {
				v, failed := transform.IntegerCell(r[j])
				c.add(failed)
				return v
			},
		})
	}
	origin := s.opts.Origin
	for _, p := range epochColumns {
		j, err := mustColumn(renamed, p.From)
		if err != nil {
			return nil, err
		}
		c := &counter{}
		counters[p.As] = c
		ds = append(ds, table.Derivation{
			Column: table.Column{Name: p.As, Type: table.Date},
			Fn: func(r table.Row) any {
				v, failed := transform.DateCell(r[j], origin)
				c.add(failed)
				return v
			},
		})
	}

	typed, err := renamed.WithColumns(ctx, s.opts.Workers, ds...)
	if err != nil {
		return nil, err
	}
	for col, c := range counters {
		c.record(res, col)
	}

	distinct := typed.Distinct()
	dropped(res, "duplicate", typed, distinct)
	return distinct, nil
}

// timeDimension returns one row per distinct non-null arrival or departure
// date of the written fact table, with its calendar breakdown.
func (s *Service) timeDimension(ctx context.Context, written *table.Table) (*table.Table, error) {
	out := table.MustNew(timeColumns...)
	if len(written.Columns()) == 0 {
		// an empty fact table is published without data files
		return out, nil
	}
	for _, p := range epochColumns {
		part, err := s.calendarOf(ctx, written, p.As)
		if err != nil {
			return nil, err
		}
		if out, err = out.Union(part); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Service) calendarOf(ctx context.Context, written *table.Table, column string) (*table.Table, error) {
	present, err := written.NotNull(column)
	if err != nil {
		return nil, err
	}
	dates, err := present.Select(table.As(column, "raw"))
	if err != nil {
		return nil, err
	}
	withDate, err := dates.WithColumns(ctx, s.opts.Workers, table.Derivation{
		Column: timeColumns[0],
		Fn:     func(r table.Row) any { return dateCell(r[0]) },
	})
	if err != nil {
		return nil, err
	}
	dated, err := withDate.NotNull("date")
	if err != nil {
		return nil, err
	}

	field := func(pick func(transform.Calendar) int64) func(table.Row) any {
		return func(r table.Row) any {
			return pick(transform.CalendarOf(r[1].(time.Time)))
		}
	}
	withCal, err := dated.WithColumns(ctx, s.opts.Workers,
		table.Derivation{Column: timeColumns[1], Fn: field(func(c transform.Calendar) int64 { return c.Year })},
		table.Derivation{Column: timeColumns[2], Fn: field(func(c transform.Calendar) int64 { return c.Month })},
		table.Derivation{Column: timeColumns[3], Fn: field(func(c transform.Calendar) int64 { return c.Day })},
		table.Derivation{Column: timeColumns[4], Fn: field(func(c transform.Calendar) int64 { return c.WeekOfYear })},
		table.Derivation{Column: timeColumns[5], Fn: field(func(c transform.Calendar) int64 { return c.Weekday })},
	)
	if err != nil {
		return nil, err
	}
	return withCal.Project("date", "year", "month", "day", "week_of_year", "weekday")
}

// dateCell reads a date cell of a table read back from the sink.
func dateCell(v any) any {
	switch d := v.(type) {
	case time.Time:
		return d
	case string:
		if t, ok := transform.ParseDate(d); ok {
			return t
		}
	}
	return nil
}
