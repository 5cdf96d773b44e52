package domain

import "time"

// Stage names, in execution order.
const (
	StageDemographics = "demographics"
	StageAirports     = "airports"
	StageImmigration  = "immigration"
	StageFacts        = "facts"
)

// StageOrder lists every stage in the order a run executes them.
var StageOrder = []string{StageDemographics, StageAirports, StageImmigration, StageFacts}

// IsKnownStage reports whether name is one of StageOrder.
func IsKnownStage(name string) bool {
	for _, s := range StageOrder {
		if s == name {
			return true
		}
	}
	return false
}

// Run and stage status constants.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"

	StageStatusRunning = "RUNNING"
	StageStatusSuccess = "SUCCESS"
	StageStatusFailed  = "FAILED"
	StageStatusSkipped = "SKIPPED" // not reached because an earlier stage failed
	StageStatusReused  = "REUSED"  // output kept from an earlier run on resume
)

// Run is one invocation of the pipeline.
type Run struct {
	ID           string
	Status       string
	Stages       []string // stages selected for this run
	InputRoot    string
	OutputRoot   string
	StartedAt    time.Time
	FinishedAt   *time.Time
	ErrorMessage *string
}

// StageRun is the execution record of a single stage within a run.
type StageRun struct {
	ID           string
	RunID        string
	Stage        string
	Status       string
	Result       *StageResult
	StartedAt    time.Time
	FinishedAt   *time.Time
	ErrorMessage *string
}

// StageResult summarises what a stage read and wrote.
type StageResult struct {
	Stage       string            `json:"stage"`
	RowsRead    map[string]int    `json:"rows_read,omitempty"`
	RowsWritten map[string]int    `json:"rows_written,omitempty"`
	RowsDropped map[string]int    `json:"rows_dropped,omitempty"`
	CellsNulled map[string]int    `json:"cells_nulled,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty"`
}

// NewStageResult returns an empty result for stage.
func NewStageResult(stage string) *StageResult {
	return &StageResult{
		Stage:       stage,
		RowsRead:    map[string]int{},
		RowsWritten: map[string]int{},
		RowsDropped: map[string]int{},
		CellsNulled: map[string]int{},
		Outputs:     map[string]string{},
	}
}
