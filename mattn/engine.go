//go:build cgo

// Package mattn implements the backup engine on top of the cgo-based
// github.com/mattn/go-sqlite3 driver.
package mattn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
	"github.com/benbjohnson/sqlite-backup/sqlite"
)

// DriverName is the database/sql driver registered by go-sqlite3.
const DriverName = "sqlite3"

var _ sqlitebackup.Engine = (*Engine)(nil)

// Engine implements sqlitebackup.Engine using go-sqlite3.
type Engine struct{}

// NewEngine returns a new instance of Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Name returns "mattn".
func (e *Engine) Name() string { return "mattn" }

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
			params.Set("_busy_timeout", strconv.FormatInt(opt.BusyTimeout.Milliseconds(), 10))
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
func (e *Engine) Backup(ctx context.Context, dst, src *sqlitebackup.DB, opt sqlitebackup.BackupOptions) error {
	dstConn, err := dst.Conn(ctx)
	if err != nil {
		return sqlitebackup.NewEngineError("backup", dst.Path, err)
	}
	defer dstConn.Close()

	srcConn, err := src.Conn(ctx)
	if err != nil {
		return sqlitebackup.NewEngineError("backup", src.Path, err)
	}
	defer srcConn.Close()

	if err := dstConn.Raw(func(dstDriverConn any) error {
		return srcConn.Raw(func(srcDriverConn any) error {
			d, ok := dstDriverConn.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected destination connection type: %T", dstDriverConn)
			}
			s, ok := srcDriverConn.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected source connection type: %T", srcDriverConn)
			}
			return backup(ctx, d, s, opt)
		})
	}); err != nil {
		return sqlitebackup.NewEngineError("backup", src.Path, err)
	}
	return nil
}

func backup(ctx context.Context, dst, src *sqlite3.SQLiteConn, opt sqlitebackup.BackupOptions) (err error) {
	b, err := dst.Backup("main", src, "main")
	if err != nil {
		return err
	}
	defer func() {
		if e := b.Finish(); e != nil && err == nil {
			err = e
		}
	}()

	pages := opt.PagesPerStep
	if pages <= 0 {
		pages = -1
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := b.Step(pages)
		if err != nil {
			return err
		}
		if opt.Progress != nil {
			opt.Progress(b.Remaining(), b.PageCount())
		}
		if done {
			return nil
		}

		// Step reports SQLITE_BUSY and SQLITE_LOCKED as "not done" without an
		// error. A single-step backup that is not done was blocked by a lock.
		if pages < 0 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}

		delay := opt.Sleep
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
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
