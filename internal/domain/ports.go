package domain

import (
	"context"

	"duck-etl/internal/table"
)

// Source formats understood by a TableReader.
const (
	FormatCSV     = "csv"
	FormatJSON    = "json"
	FormatParquet = "parquet"
)

// SuccessMarker is the empty file written at a table root after a publish.
const SuccessMarker = "_SUCCESS"

// WriteMode selects how a TableWriter treats existing data.
type WriteMode string

// Write modes.
const (
	ModeOverwrite WriteMode = "overwrite"
	ModeAppend    WriteMode = "append"
)

// ReadSpec describes a tabular read.
type ReadSpec struct {
	Path      string // file, glob, or table directory
	Format    string // csv, json or parquet
	Delimiter string // csv only
	Header    bool   // csv only
}

// WriteSpec describes a partitioned write under the output root.
type WriteSpec struct {
	Name        string   // table name, also the directory under the output root
	PartitionBy []string // ordered partition-key columns; empty for none
	Mode        WriteMode
}

// WriteResult reports what a TableWriter persisted.
type WriteResult struct {
	Path       string
	Rows       int
	Partitions []string // hive-style partition paths, empty for unpartitioned tables
}

// TableReader yields a table of nullable string columns.
// Missing inputs fail with *SourceNotFoundError.
type TableReader interface {
	ReadTable(ctx context.Context, spec ReadSpec) (*table.Table, error)
}

// TableWriter persists a table. Failures are reported as *SinkWriteError.
type TableWriter interface {
	WriteTable(ctx context.Context, t *table.Table, spec WriteSpec) (*WriteResult, error)
	// TablePath returns the location a table named name is written to.
	TablePath(name string) string
}

// Publisher moves a table staged on local disk to its final location.
// partitions lists the relative partition directories present under
// stagedDir ("" for an unpartitioned table). In overwrite mode each listed
// partition replaces the existing one; in append mode the staged files are
// added next to existing files.
type Publisher interface {
	Publish(ctx context.Context, stagedDir, tablePath string, partitions []string, mode WriteMode) error
}

// RunRepository persists the run ledger.
type RunRepository interface {
	CreateRun(ctx context.Context, run *Run) (*Run, error)
	FinishRun(ctx context.Context, runID, status string, errMsg *string) error
	CreateStageRun(ctx context.Context, sr *StageRun) (*StageRun, error)
	FinishStageRun(ctx context.Context, stageRunID, status string, result *StageResult, errMsg *string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	LatestRun(ctx context.Context) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListStageRuns(ctx context.Context, runID string) ([]StageRun, error)
}
