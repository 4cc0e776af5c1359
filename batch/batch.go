// Package batch splits document writes into bounded groups and commits each
// group as one atomic unit.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultGroupSize is one below the platform's 500-operation batch cap,
// leaving headroom for auxiliary operations in the same commit.
const DefaultGroupSize = 499

// Write is a single pending document write.
type Write struct {
	Path string         // full document path, e.g. "users/u1/notifications/n1"
	Data map[string]any // document body
}

// Committer commits one group of writes atomically.
type Committer interface {
	Commit(ctx context.Context, writes []Write) error
}

// CommitError reports the failure of one group's commit. Other groups are
// unaffected; the caller decides whether to retry the failed group.
type CommitError struct {
	Err   error
	Group int // zero-based index of the failed group
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit group %d: %v", e.Group, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Writer partitions writes into groups and submits them through a Committer.
type Writer struct {
	committer Committer
	logger    *slog.Logger
	groupSize int
}

// New creates a batch writer. A non-positive groupSize falls back to
// DefaultGroupSize.
func New(committer Committer, groupSize int, logger *slog.Logger) *Writer {
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}
	return &Writer{
		committer: committer,
		groupSize: groupSize,
		logger:    logger,
	}
}

// WriteAll partitions writes into contiguous groups of at most the configured
// size, preserving order, and commits each group independently. It returns the
// total number of documents committed and the joined per-group errors, if any.
// Empty input is a no-op success.
func (w *Writer) WriteAll(ctx context.Context, writes []Write) (int, error) {
	if len(writes) == 0 {
		return 0, nil
	}

	var committed int
	var errs []error

	for start, group := 0, 0; start < len(writes); start, group = start+w.groupSize, group+1 {
		end := start + w.groupSize
		if end > len(writes) {
			end = len(writes)
		}
		chunk := writes[start:end]

		if err := w.committer.Commit(ctx, chunk); err != nil {
			w.logger.Warn("Batch group commit failed",
				"group", group,
				"size", len(chunk),
				"error", err)
			errs = append(errs, &CommitError{Group: group, Err: err})
			continue
		}

		committed += len(chunk)
		w.logger.Debug("Batch group committed", "group", group, "size", len(chunk))
	}

	return committed, errors.Join(errs...)
}
