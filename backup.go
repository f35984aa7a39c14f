package sqlitebackup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/sqlite-backup/internal"
	"github.com/benbjohnson/sqlite-backup/sqlite"
)

// Options is the configuration for a single Backup call.
type Options struct {
	// WALCheckpoint runs a TRUNCATE checkpoint on a file destination after
	// the backup so all data lives in the main file.
	WALCheckpoint bool

	// CopyUseTempdir stages the source files in a private temporary directory
	// before opening them. When false the engine reads the live source.
	CopyUseTempdir bool

	// CopyRetry bounds the number of staging passes.
	CopyRetry int

	// CopyRetryStrict fails the backup with ErrCopyIntegrity when no staging
	// pass was clean. When false the last pass is used and a warning logged.
	CopyRetryStrict bool

	// Engine opens databases and runs the backup. Required.
	Engine Engine

	// Copier copies individual files during staging. Defaults to a StableCopier.
	Copier Copier

	// ConnectOptions apply to the connection reading the source.
	ConnectOptions ConnectOptions

	// BackupOptions are passed through to Engine.Backup.
	BackupOptions BackupOptions

	// TempDir is the parent of the staging area. Defaults to os.TempDir().
	TempDir string

	Logger *slog.Logger
}

// DefaultOptions returns the default backup options. Engine must still be set.
func DefaultOptions() Options {
	return Options{
		WALCheckpoint:   DefaultWALCheckpoint,
		CopyUseTempdir:  DefaultCopyUseTempdir,
		CopyRetry:       DefaultCopyRetry,
		CopyRetryStrict: DefaultCopyRetryStrict,
	}
}

func (opt *Options) logger() *slog.Logger {
	if opt.Logger != nil {
		return opt.Logger
	}
	return slog.Default()
}

// Backup copies the database at src to dst.
//
// If dst is empty or MemoryDestination, the database is copied into memory
// and the open handle is returned; the caller must close it. Otherwise dst is
// resolved with ResolveDestination, the backup is written there and a nil
// handle is returned.
//
// Staging directories and connections are always released before Backup
// returns. On failure, any file Backup created at the destination is removed.
func Backup(ctx context.Context, src, dst string, opt Options) (out *DB, err error) {
	if opt.Engine == nil {
		return nil, errors.New("backup engine required")
	}
	logger := opt.logger()
	startTime := time.Now()

	defer func() {
		if err != nil {
			internal.BackupTotalCounterVec.WithLabelValues("error").Inc()
			return
		}
		internal.BackupTotalCounterVec.WithLabelValues("ok").Inc()
		internal.BackupDurationHistogram.Observe(time.Since(startTime).Seconds())
	}()

	set, err := ResolveFileSet(src)
	if err != nil {
		return nil, err
	}
	logger.Debug("resolved file set", "path", set.Main(), "sidecars", len(set.Sidecars()))

	// Destination conflicts fail before anything is staged or opened.
	var target string
	if dst != "" && dst != MemoryDestination {
		if target, err = ResolveDestination(src, dst); err != nil {
			return nil, err
		}
	}

	s := &session{logger: logger}
	defer func() {
		if e := s.Close(); e != nil && err == nil {
			err = e
			if out != nil {
				_ = out.Close()
				out = nil
			}
		}
	}()

	readPath := set.Main()
	if opt.CopyUseTempdir {
		if readPath, err = s.stage(ctx, set, &opt); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("reading live database without staging; concurrent writes may produce an inconsistent backup",
			"path", set.Main())
	}

	if s.src, err = opt.Engine.Open(ctx, readPath, opt.ConnectOptions); err != nil {
		return nil, err
	}

	if target == "" {
		if s.dst, err = opt.Engine.Open(ctx, MemoryDestination, ConnectOptions{}); err != nil {
			return nil, err
		}
	} else {
		if err := s.claim(target); err != nil {
			return nil, err
		}
		if s.dst, err = opt.Engine.Open(ctx, target, ConnectOptions{}); err != nil {
			return nil, err
		}
	}

	if err := opt.Engine.Backup(ctx, s.dst, s.src, opt.BackupOptions); err != nil {
		return nil, err
	}

	if target == "" {
		db := s.dst
		s.dst = nil
		logger.Debug("backup complete", "path", set.Main(), "destination", MemoryDestination,
			"elapsed", internal.TruncateDuration(time.Since(startTime)))
		return db, nil
	}

	if opt.WALCheckpoint {
		if err := opt.Engine.Checkpoint(ctx, s.dst); err != nil {
			logger.Warn("wal checkpoint failed, backup is intact", "path", target, "error", err)
		}
	}

	s.keep()
	logger.Debug("backup complete", "path", set.Main(), "destination", target,
		"elapsed", internal.TruncateDuration(time.Since(startTime)))
	return nil, nil
}

// session tracks the resources acquired by one Backup call.
type session struct {
	logger *slog.Logger

	stagingDir string // private staging area, if created
	created    string // destination file claimed by this call, sidecars absent at claim
	src, dst   *DB
}

// stage copies set into a new staging area and returns the staged main file.
func (s *session) stage(ctx context.Context, set FileSet, opt *Options) (string, error) {
	dir, err := os.MkdirTemp(opt.TempDir, StagingDirPattern)
	if err != nil {
		return "", fmt.Errorf("create staging area: %w", err)
	}
	s.stagingDir = dir

	c := NewFileSetCopier(opt.Copier, opt.CopyRetry)
	c.Logger = s.logger

	result, err := c.Copy(ctx, set, dir)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", set.Main(), err)
	}

	if !result.Clean {
		if opt.CopyRetryStrict {
			return "", fmt.Errorf("%w: %s (%d attempts)", ErrCopyIntegrity, set.Main(), result.Attempts)
		}
		s.logger.Warn("source changed during every copy attempt, continuing with last copy",
			"path", set.Main(),
			"attempts", result.Attempts)
	}

	return filepath.Join(dir, filepath.Base(set.Main())), nil
}

// claim creates target exclusively so a concurrent backup cannot take it.
// Its sidecars must be absent, so any found at Close were created by this call.
func (s *session) claim(target string) error {
	if err := checkSidecarsAbsent(target); err != nil {
		return err
	}

	f, err := internal.CreateExclusive(target, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrDestinationExists, target)
	} else if err != nil {
		return err
	}
	s.created = target
	return f.Close()
}

// keep marks the claimed destination as complete so Close leaves it in place.
func (s *session) keep() { s.created = "" }

// Close releases connections, removes a partial destination and deletes
// the staging area. It returns the first error encountered.
func (s *session) Close() (err error) {
	if s.dst != nil {
		if e := s.dst.Close(); e != nil && err == nil {
			err = fmt.Errorf("close destination: %w", e)
		}
		s.dst = nil
	}

	if s.src != nil {
		if e := s.src.Close(); e != nil && err == nil {
			err = fmt.Errorf("close source: %w", e)
		}
		s.src = nil
	}

	if s.created != "" {
		for _, path := range append([]string{s.created}, sidecarPaths(s.created)...) {
			if e := os.Remove(path); e != nil && !errors.Is(e, os.ErrNotExist) && err == nil {
				err = e
			}
		}
		s.created = ""
	}

	if s.stagingDir != "" {
		if e := os.RemoveAll(s.stagingDir); e != nil && err == nil {
			err = fmt.Errorf("remove staging area: %w", e)
		}
		s.stagingDir = ""
	}

	return err
}

func sidecarPaths(path string) []string {
	a := make([]string, len(sqlite.SidecarSuffixes))
	for i, suffix := range sqlite.SidecarSuffixes {
		a[i] = path + suffix
	}
	return a
}
