package cli

import (
	"io"
	"strconv"
	"strings"
	"time"

	"duck-etl/internal/domain"
	"duck-etl/internal/service/etl"
)

// runView is the JSON shape of a ledger run.
type runView struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Stages     []string    `json:"stages"`
	InputRoot  string      `json:"input_root"`
	OutputRoot string      `json:"output_root"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
	StageRuns  []stageView `json:"stage_runs,omitempty"`
}

// stageView is the JSON shape of a stage run.
type stageView struct {
	Stage      string              `json:"stage"`
	Status     string              `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Result     *domain.StageResult `json:"result,omitempty"`
	Message    string              `json:"message,omitempty"`
}

func newRunView(r *domain.Run, stages []domain.StageRun) runView {
	v := runView{
		ID:         r.ID,
		Status:     r.Status,
		Stages:     r.Stages,
		InputRoot:  r.InputRoot,
		OutputRoot: r.OutputRoot,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Error:      deref(r.ErrorMessage),
	}
	for _, sr := range stages {
		v.StageRuns = append(v.StageRuns, stageView{
			Stage:      sr.Stage,
			Status:     sr.Status,
			StartedAt:  sr.StartedAt,
			FinishedAt: sr.FinishedAt,
			Result:     sr.Result,
			Message:    deref(sr.ErrorMessage),
		})
	}
	return v
}

// printRun writes a run and its stages in the selected format.
func printRun(w io.Writer, format string, s *etl.RunSummary) error {
	if format == "json" {
		return PrintJSON(w, newRunView(s.Run, s.Stages))
	}
	PrintDetail(w, map[string]interface{}{
		"run":      s.Run.ID,
		"status":   s.Run.Status,
		"input":    s.Run.InputRoot,
		"output":   s.Run.OutputRoot,
		"started":  formatTime(&s.Run.StartedAt),
		"duration": formatDuration(s.Run.StartedAt, s.Run.FinishedAt),
	})
	_, _ = io.WriteString(w, "\n")

	rows := make([][]string, 0, len(s.Stages))
	for _, sr := range s.Stages {
		read, written, dropped, nulled := "-", "-", "-", "-"
		if sr.Result != nil {
			read = strconv.Itoa(sumCounts(sr.Result.RowsRead))
			written = strconv.Itoa(sumCounts(sr.Result.RowsWritten))
			dropped = strconv.Itoa(sumCounts(sr.Result.RowsDropped))
			nulled = strconv.Itoa(sumCounts(sr.Result.CellsNulled))
		}
		rows = append(rows, []string{
			sr.Stage,
			sr.Status,
			formatDuration(sr.StartedAt, sr.FinishedAt),
			read, written, dropped, nulled,
			oneLine(deref(sr.ErrorMessage)),
		})
	}
	PrintTable(w, []string{"stage", "status", "duration", "read", "written", "dropped", "nulled", "message"}, rows)
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
