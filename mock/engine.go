package mock

import (
	"context"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

var _ sqlitebackup.Engine = (*Engine)(nil)

// Engine is an Engine whose behavior is supplied by function fields.
// A nil field delegates to Base, if set.
type Engine struct {
	Base sqlitebackup.Engine

	OpenFunc       func(ctx context.Context, path string, opt sqlitebackup.ConnectOptions) (*sqlitebackup.DB, error)
	BackupFunc     func(ctx context.Context, dst, src *sqlitebackup.DB, opt sqlitebackup.BackupOptions) error
	CheckpointFunc func(ctx context.Context, db *sqlitebackup.DB) error
}

func (e *Engine) Name() string { return "mock" }

func (e *Engine) Open(ctx context.Context, path string, opt sqlitebackup.ConnectOptions) (*sqlitebackup.DB, error) {
	if e.OpenFunc == nil {
		return e.Base.Open(ctx, path, opt)
	}
	return e.OpenFunc(ctx, path, opt)
}

func (e *Engine) Backup(ctx context.Context, dst, src *sqlitebackup.DB, opt sqlitebackup.BackupOptions) error {
	if e.BackupFunc == nil {
		return e.Base.Backup(ctx, dst, src, opt)
	}
	return e.BackupFunc(ctx, dst, src, opt)
}

func (e *Engine) Checkpoint(ctx context.Context, db *sqlitebackup.DB) error {
	if e.CheckpointFunc == nil {
		return e.Base.Checkpoint(ctx, db)
	}
	return e.CheckpointFunc(ctx, db)
}
