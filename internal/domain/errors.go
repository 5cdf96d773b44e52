// Package domain defines core types, interfaces, and errors for the ETL pipeline.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input or configuration.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// SourceNotFoundError indicates that a required input path or glob matched nothing.
type SourceNotFoundError struct {
	Path   string
	Detail string
}

func (e *SourceNotFoundError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("source not found: %s: %s", e.Path, e.Detail)
	}
	return fmt.Sprintf("source not found: %s", e.Path)
}

// UpstreamArtifactMissingError indicates that a table a stage depends on has not
// been written by an earlier stage or run.
type UpstreamArtifactMissingError struct {
	Table string
	Path  string
	Err   error
}

func (e *UpstreamArtifactMissingError) Error() string {
	msg := fmt.Sprintf("upstream artifact %q missing at %s", e.Table, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamArtifactMissingError) Unwrap() error { return e.Err }

// SinkWriteError indicates a failure persisting a table or one of its partitions.
type SinkWriteError struct {
	Table     string
	Partition string // empty for unpartitioned tables
	Err       error
}

func (e *SinkWriteError) Error() string {
	if e.Partition != "" {
		return fmt.Sprintf("write %s/%s: %v", e.Table, e.Partition, e.Err)
	}
	return fmt.Sprintf("write %s: %v", e.Table, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// StageError attributes a fatal failure to the pipeline stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrSourceNotFound creates a SourceNotFoundError for path.
func ErrSourceNotFound(path, detail string) *SourceNotFoundError {
	return &SourceNotFoundError{Path: path, Detail: detail}
}
