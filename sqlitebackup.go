// Package sqlitebackup produces point-in-time copies of SQLite databases that
// are owned and actively written by another process.
//
// The database file and its sidecars are first staged into a private
// temporary directory, retrying whenever the source is observed to change
// mid-copy, and the staged copy is then streamed into the destination with
// the engine's online backup API.
package sqlitebackup

import (
	"errors"
	"fmt"
	"os"
)

// Naming constants.
const (
	// MemoryDestination is the engine path used for in-memory databases.
	MemoryDestination = ":memory:"

	// StagingDirPattern is the pattern passed to os.MkdirTemp for staging areas.
	StagingDirPattern = "sqlite-backup-*"
)

// Default settings.
const (
	DefaultWALCheckpoint   = true
	DefaultCopyUseTempdir  = true
	DefaultCopyRetry       = 100
	DefaultCopyRetryStrict = true
)

var (
	// ErrSourceNotFound is returned when the main database file does not exist.
	ErrSourceNotFound = fmt.Errorf("source database not found: %w", os.ErrNotExist)

	// ErrDestinationDirNotFound is returned when the parent directory of a
	// destination file does not exist.
	ErrDestinationDirNotFound = fmt.Errorf("destination directory not found: %w", os.ErrNotExist)

	// ErrDestinationExists is returned when the resolved destination file is
	// already present. Backups never overwrite existing data.
	ErrDestinationExists = fmt.Errorf("destination already exists: %w", os.ErrExist)

	// ErrCopyIntegrity is returned in strict mode when no staging attempt
	// completed without the source changing underneath it.
	ErrCopyIntegrity = errors.New("source files changed during every copy attempt")

	// ErrExportExists is returned when the export target already holds an
	// object with the backup's name.
	ErrExportExists = fmt.Errorf("export object already exists: %w", os.ErrExist)
)

// EngineError wraps a failure reported by the database engine while
// opening, backing up or checkpointing a database.
type EngineError struct {
	Op   string
	Path string
	Err  error
}

// NewEngineError returns a new instance of EngineError.
func NewEngineError(op, path string, err error) *EngineError {
	return &EngineError{Op: op, Path: path, Err: err}
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("engine %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying engine error.
func (e *EngineError) Unwrap() error { return e.Err }
