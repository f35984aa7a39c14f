// Package modernc implements the backup engine on top of the pure Go
// modernc.org/sqlite driver.
package modernc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	msqlite "modernc.org/sqlite"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
	"github.com/benbjohnson/sqlite-backup/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

var _ sqlitebackup.Engine = (*Engine)(nil)

// restorer is implemented by the driver connection. NewRestore opens its
// own connection to srcURI and copies it into the receiver.
type restorer interface {
	NewRestore(srcURI string) (*msqlite.Backup, error)
}

// Engine implements sqlitebackup.Engine using modernc.org/sqlite.
type Engine struct{}

// NewEngine returns a new instance of Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Name returns "modernc".
func (e *Engine) Name() string { return "modernc" }

// Open opens the database at path, or an in-memory database if path is
// empty or sqlitebackup.MemoryDestination.
func (e *Engine) Open(ctx context.Context, path string, opt sqlitebackup.ConnectOptions) (*sqlitebackup.DB, error) {
	if path == sqlitebackup.MemoryDestination {
		path = ""
	}

	dsn := sqlitebackup.MemoryDestination
	if path != "" {
		params := opt.URIParams()
		if opt.BusyTimeout > 0 {
			params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opt.BusyTimeout.Milliseconds()))
		}
		dsn = sqlite.FileURI(path, params)
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, sqlitebackup.NewEngineError("open", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	// Read the header so an unreadable or locked file fails here instead of
	// partway through the backup.
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA schema_version`).Scan(&version); err != nil {
		_ = db.Close()
		return nil, sqlitebackup.NewEngineError("open", path, err)
	}

	return &sqlitebackup.DB{DB: db, Path: path, DSN: dsn}, nil
}

// Backup copies src into dst using the SQLite online backup API.
//
// The driver only exposes backups between a pooled connection and a URI, so
// the destination's connection restores from a fresh connection opened with
// src's DSN. src must be file-backed. The driver does not report page counts:
// Progress receives -1 for both values while pages remain and zeros once done.
func (e *Engine) Backup(ctx context.Context, dst, src *sqlitebackup.DB, opt sqlitebackup.BackupOptions) error {
	if src.IsMemory() {
		return sqlitebackup.NewEngineError("backup", "", errors.New("in-memory source not supported"))
	}

	conn, err := dst.Conn(ctx)
	if err != nil {
		return sqlitebackup.NewEngineError("backup", dst.Path, err)
	}
	defer conn.Close()

	if err := conn.Raw(func(driverConn any) error {
		r, ok := driverConn.(restorer)
		if !ok {
			return fmt.Errorf("unexpected destination connection type: %T", driverConn)
		}
		return restore(ctx, r, src.DSN, opt)
	}); err != nil {
		return sqlitebackup.NewEngineError("backup", src.Path, err)
	}
	return nil
}

func restore(ctx context.Context, r restorer, srcURI string, opt sqlitebackup.BackupOptions) (err error) {
	b, err := r.NewRestore(srcURI)
	if err != nil {
		return err
	}
	defer func() {
		if e := b.Finish(); e != nil && err == nil {
			err = e
		}
	}()

	pages := int32(opt.PagesPerStep)
	if pages <= 0 {
		pages = -1
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		more, err := b.Step(pages)
		if err != nil {
			return err
		}
		if !more {
			if opt.Progress != nil {
				opt.Progress(0, 0)
			}
			return nil
		}
		if opt.Progress != nil {
			opt.Progress(-1, -1)
		}

		if opt.Sleep > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opt.Sleep):
			}
		}
	}
}

// Checkpoint runs a TRUNCATE checkpoint against db.
func (e *Engine) Checkpoint(ctx context.Context, db *sqlitebackup.DB) error {
	r, err := sqlite.CheckpointTruncate(ctx, db.DB)
	if err != nil {
		return sqlitebackup.NewEngineError("checkpoint", db.Path, err)
	} else if r.Busy {
		return sqlitebackup.NewEngineError("checkpoint", db.Path, errors.New("checkpoint blocked by another connection"))
	}
	return nil
}
