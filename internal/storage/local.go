// Package storage publishes staged tables to their final location on the
// local filesystem or in S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"duck-etl/internal/domain"
)

// Compile-time interface check.
var _ domain.Publisher = (*LocalPublisher)(nil)

// LocalPublisher publishes to a local directory tree by renaming staged
// partition directories into place. The staging directory must be on the same
// filesystem as the output root.
type LocalPublisher struct {
	logger *slog.Logger
}

// NewLocalPublisher creates a LocalPublisher.
func NewLocalPublisher(logger *slog.Logger) *LocalPublisher {
	return &LocalPublisher{logger: logger}
}

// Publish implements domain.Publisher. Each overwritten partition is swapped
// in with a rename, so readers see either the old or the new directory.
func (p *LocalPublisher) Publish(ctx context.Context, stagedDir, tablePath string, partitions []string, mode domain.WriteMode) error {
	if err := os.MkdirAll(tablePath, 0o755); err != nil {
		return fmt.Errorf("create table dir: %w", err)
	}
	trash := filepath.Join(filepath.Dir(tablePath), ".trash-"+filepath.Base(tablePath)+"-"+uuid.NewString())
	defer func() { _ = os.RemoveAll(trash) }()

	for _, part := range partitions {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := filepath.Join(stagedDir, filepath.FromSlash(part))
		dst := filepath.Join(tablePath, filepath.FromSlash(part))
		var err error
		if mode == domain.ModeAppend {
			err = moveFiles(src, dst)
		} else {
			err = swapDir(src, dst, filepath.Join(trash, filepath.FromSlash(part)), part == "")
		}
		if err != nil {
			return fmt.Errorf("publish partition %q: %w", part, err)
		}
		p.logger.Debug("partition published", "table", tablePath, "partition", part, "mode", string(mode))
	}
	return writeMarker(tablePath)
}

// swapDir replaces dst with src. An existing dst is first moved to trash.
// For an unpartitioned table the table root itself is replaced.
func swapDir(src, dst, trash string, root bool) error {
	if _, err := os.Stat(dst); err == nil {
		if err := os.MkdirAll(filepath.Dir(trash), 0o755); err != nil {
			return err
		}
		if err := os.Rename(dst, trash); err != nil {
			return fmt.Errorf("move aside: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	if !root {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
	}
	if err := os.Rename(src, dst); err != nil {
		// Put the previous data back so a failed publish leaves it in place.
		if _, statErr := os.Stat(trash); statErr == nil {
			_ = os.Rename(trash, dst)
		}
		return fmt.Errorf("rename staged partition: %w", err)
	}
	return nil
}

// moveFiles moves the files of src into dst, creating dst as needed.
func moveFiles(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Rename(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func writeMarker(tablePath string) error {
	f, err := os.Create(filepath.Join(tablePath, domain.SuccessMarker))
	if err != nil {
		return fmt.Errorf("write %s: %w", domain.SuccessMarker, err)
	}
	return f.Close()
}
