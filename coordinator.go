package sqlitebackup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/benbjohnson/sqlite-backup/internal"
)

// CopyResult is the outcome of copying a whole FileSet.
type CopyResult struct {
	// Clean is true if the accepted attempt copied every file without
	// observing a change in the source.
	Clean bool

	// Attempts is the number of passes made over the file set.
	Attempts int

	// Outcomes holds the per-file results of the last attempt. The last
	// attempt always covers every file of the set.
	Outcomes []CopyOutcome
}

// FileSetCopier copies every file of a FileSet into a directory, repeating
// the whole set until one pass completes cleanly or the attempt bound is hit.
type FileSetCopier struct {
	// Copier copies individual files. Defaults to a StableCopier.
	Copier Copier

	// MaxRetries bounds the number of passes. Zero still makes one pass.
	MaxRetries int

	Logger *slog.Logger
}

// NewFileSetCopier returns a new instance of FileSetCopier.
func NewFileSetCopier(c Copier, maxRetries int) *FileSetCopier {
	if c == nil {
		c = NewStableCopier()
	}
	return &FileSetCopier{
		Copier:     c,
		MaxRetries: maxRetries,
		Logger:     slog.Default(),
	}
}

// Copy copies set into dir. Each file keeps its base name. A result with
// Clean set to false still leaves the files of the final attempt in dir.
func (c *FileSetCopier) Copy(ctx context.Context, set FileSet, dir string) (*CopyResult, error) {
	if len(set) == 0 {
		return nil, fmt.Errorf("cannot copy empty file set")
	}

	maxAttempts := c.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := &CopyResult{}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		internal.CopyAttemptTotalCounter.Inc()

		outcomes, clean, err := c.copyOnce(ctx, set, dir, attempt == maxAttempts)
		result.Outcomes = outcomes
		if err != nil {
			return result, err
		}

		if clean {
			result.Clean = true
			c.logger().Debug("file set copied",
				"path", set.Main(),
				"files", len(set),
				"size", humanize.IBytes(uint64(totalSize(outcomes))),
				"attempts", attempt)
			return result, nil
		}

		internal.Trace(c.logger(), "source changed during copy, retrying", "path", set.Main(), "attempt", attempt, "max_attempts", maxAttempts)
	}

	return result, nil
}

// copyOnce makes a single pass over set. A pass that will be retried stops at
// the first unclean file; the final pass copies every file so the staging
// area holds a complete set either way.
func (c *FileSetCopier) copyOnce(ctx context.Context, set FileSet, dir string, final bool) (outcomes []CopyOutcome, clean bool, err error) {
	clean = true
	for _, src := range set {
		if err := ctx.Err(); err != nil {
			return outcomes, false, err
		}

		outcome, err := c.copier().CopyFile(ctx, src, filepath.Join(dir, filepath.Base(src)))
		if err != nil {
			return outcomes, false, err
		}
		outcomes = append(outcomes, outcome)

		if !outcome.Clean {
			clean = false
			if !final {
				return outcomes, false, nil
			}
		}
	}
	return outcomes, clean, nil
}

func (c *FileSetCopier) copier() Copier {
	if c.Copier != nil {
		return c.Copier
	}
	return NewStableCopier()
}

func (c *FileSetCopier) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func totalSize(outcomes []CopyOutcome) (n int64) {
	for _, o := range outcomes {
		n += o.Size
	}
	return n
}
