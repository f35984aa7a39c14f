//go:build !cgo

package mattn

import (
	"context"
	"errors"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

// DriverName is the database/sql driver registered by go-sqlite3.
const DriverName = "sqlite3"

// ErrCgoRequired is returned by every operation in builds without cgo.
var ErrCgoRequired = errors.New("mattn driver requires cgo and is not available in this build")

var _ sqlitebackup.Engine = (*Engine)(nil)

// Engine is a stub for builds without cgo support.
type Engine struct{}

// NewEngine returns a new instance of Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Name returns "mattn".
func (e *Engine) Name() string { return "mattn" }

func (e *Engine) Open(ctx context.Context, path string, opt sqlitebackup.ConnectOptions) (*sqlitebackup.DB, error) {
	return nil, sqlitebackup.NewEngineError("open", path, ErrCgoRequired)
}

func (e *Engine) Backup(ctx context.Context, dst, src *sqlitebackup.DB, opt sqlitebackup.BackupOptions) error {
	return sqlitebackup.NewEngineError("backup", src.Path, ErrCgoRequired)
}

func (e *Engine) Checkpoint(ctx context.Context, db *sqlitebackup.DB) error {
	return sqlitebackup.NewEngineError("checkpoint", db.Path, ErrCgoRequired)
}
