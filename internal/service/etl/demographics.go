package etl

import (
	"context"

	"duck-etl/internal/domain"
	"duck-etl/internal/table"
)

// Source column names of the demographics survey.
const (
	colStateCode = "State Code"
	colState     = "State"
)

var demographicsColumns = []table.Projection{
	table.As("City", "city"),
	table.As("Median Age", "median_age"),
	table.As("Male Population", "male_population"),
	table.As("Female Population", "female_population"),
	table.As("Total Population", "total_population"),
	table.As("Number of Veterans", "veteran_count"),
	table.As("Foreign-born", "foreign_born"),
	table.As("Average Household Size", "avg_household_size"),
	table.As(colStateCode, "state_code"),
}

// Demographics builds the states and demographics dimensions. Rows without a
// state code are excluded from both.
func (s *Service) Demographics(ctx context.Context) (*domain.StageResult, error) {
	res := domain.NewStageResult(domain.StageDemographics)
	logger := s.logger.With("stage", res.Stage)

	raw, err := s.read(ctx, res, "demographics_source", s.opts.Demographics)
	if err != nil {
		return nil, err
	}
	coded, err := raw.NotNull(colStateCode)
	if err != nil {
		return nil, err
	}
	dropped(res, "null_state_code", raw, coded)

	states, err := coded.Select(table.As(colStateCode, "code"), table.As(colState, "name"))
	if err != nil {
		return nil, err
	}
	distinctStates := states.Distinct()
	dropped(res, "states_duplicate", states, distinctStates)
	if err := s.write(ctx, res, distinctStates, domain.WriteSpec{Name: TableStates, Mode: domain.ModeOverwrite}); err != nil {
		return nil, err
	}
	logger.Info("State dimension populated", "rows", distinctStates.Len())

	demo, err := coded.Select(demographicsColumns...)
	if err != nil {
		return nil, err
	}
	distinctDemo := demo.Distinct()
	dropped(res, "demographics_duplicate", demo, distinctDemo)
	if err := s.write(ctx, res, distinctDemo, domain.WriteSpec{Name: TableDemographics, Mode: domain.ModeOverwrite}); err != nil {
		return nil, err
	}
	logger.Info("Demographics dimension populated", "rows", distinctDemo.Len())

	return res, nil
}
