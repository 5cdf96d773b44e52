package etl

import (
	"context"
	"strings"

	"duck-etl/internal/domain"
	"duck-etl/internal/table"
)

// Airports builds the airports dimension: rows of the configured country with
// a derived state, unique on (ident, type) keeping the first row seen.
func (s *Service) Airports(ctx context.Context) (*domain.StageResult, error) {
	res := domain.NewStageResult(domain.StageAirports)

	raw, err := s.read(ctx, res, "airports_source", s.opts.Airports)
	if err != nil {
		return nil, err
	}
	local, err := raw.Equals("iso_country", s.opts.Country)
	if err != nil {
		return nil, err
	}
	dropped(res, "other_country", raw, local)

	region, err := mustColumn(local, "iso_region")
	if err != nil {
		return nil, err
	}
	prefix := s.opts.Country + "-"
	withState, err := local.WithColumns(ctx, s.opts.Workers, table.Derivation{
		Column: table.Column{Name: "state", Type: table.String},
		Fn: func(r table.Row) any {
			v, ok := r[region].(string)
			if !ok {
				return nil
			}
			return StateFromRegion(v, prefix)
		},
	})
	if err != nil {
		return nil, err
	}

	unique, err := withState.DistinctOn("ident", "type")
	if err != nil {
		return nil, err
	}
	dropped(res, "duplicate", withState, unique)

	if err := s.write(ctx, res, unique, domain.WriteSpec{Name: TableAirports, Mode: domain.ModeOverwrite}); err != nil {
		return nil, err
	}
	s.logger.Info("Airports dimension populated", "stage", res.Stage, "rows", unique.Len(), "country", s.opts.Country)
	return res, nil
}

// StateFromRegion strips a leading "<country>-" prefix from an ISO region
// code. Regions without the prefix are returned unchanged.
func StateFromRegion(region, prefix string) string {
	return strings.TrimPrefix(region, prefix)
}
