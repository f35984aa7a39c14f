package sqlitebackup

import (
	"context"
	"database/sql"
	"net/url"
	"time"
)

// Engine is the database engine capability used by Backup. Implementations
// live in the mattn and modernc packages.
type Engine interface {
	// Name returns the engine's short name, e.g. "modernc".
	Name() string

	// Open opens the database at path. An empty path or MemoryDestination
	// opens a private in-memory database. The returned handle is pinned to a
	// single connection so an in-memory database stays alive with it.
	Open(ctx context.Context, path string, opt ConnectOptions) (*DB, error)

	// Backup streams the complete contents of src into dst. It either runs
	// to completion or returns an error.
	Backup(ctx context.Context, dst, src *DB, opt BackupOptions) error

	// Checkpoint folds the WAL of db into its main file and truncates the
	// WAL to zero bytes.
	Checkpoint(ctx context.Context, db *DB) error
}

// DB is a database handle opened by an Engine.
type DB struct {
	*sql.DB

	// Path is the database file, or empty for an in-memory database.
	Path string

	// DSN is the data source name the handle was opened with.
	DSN string
}

// IsMemory returns true if db is an in-memory database.
func (db *DB) IsMemory() bool { return db.Path == "" }

// ConnectOptions configure how an Engine opens a database.
type ConnectOptions struct {
	// ReadOnly opens the database without write access.
	ReadOnly bool

	// Immutable tells SQLite the file cannot change, disabling all locking
	// and change detection. Only safe for files nobody else writes, such as
	// a staged copy.
	Immutable bool

	// BusyTimeout is how long SQLite waits on a locked database before
	// returning SQLITE_BUSY. Zero uses the engine default.
	BusyTimeout time.Duration

	// Params are extra URI parameters passed to the engine verbatim.
	Params url.Values
}

// BackupOptions configure the streaming backup.
type BackupOptions struct {
	// PagesPerStep is the number of pages copied per step. Zero or a
	// negative value copies the whole database in one step.
	PagesPerStep int

	// Sleep is the pause between steps, giving writers on the source a
	// chance to run.
	Sleep time.Duration

	// Progress, if set, is called after each step.
	Progress func(remaining, total int)
}

// URIParams returns the SQLite URI parameters shared by every engine.
// Engine-specific options such as the busy timeout are added by the engine.
func (opt ConnectOptions) URIParams() url.Values {
	params := url.Values{}
	for k, v := range opt.Params {
		params[k] = append([]string(nil), v...)
	}
	if opt.ReadOnly {
		params.Set("mode", "ro")
	}
	if opt.Immutable {
		params.Set("immutable", "1")
	}
	return params
}
