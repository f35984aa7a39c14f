//go:build cgo

package mattn_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
	"github.com/benbjohnson/sqlite-backup/internal/testingutil"
	"github.com/benbjohnson/sqlite-backup/mattn"
)

func TestEngine_Backup(t *testing.T) {
	t.Run("ToFile", func(t *testing.T) {
		dir := t.TempDir()
		e := mattn.NewEngine()
		path, sqldb := testingutil.MustCreateDB(t, dir, "src.db", 50)
		defer testingutil.MustCloseSQLDB(t, sqldb)

		src := mustOpen(t, e, path, sqlitebackup.ConnectOptions{ReadOnly: true})
		dst := mustOpen(t, e, filepath.Join(dir, "dst.db"), sqlitebackup.ConnectOptions{})

		var total int
		if err := e.Backup(context.Background(), dst, src, sqlitebackup.BackupOptions{
			PagesPerStep: 1,
			Progress:     func(remaining, pageCount int) { total = pageCount },
		}); err != nil {
			t.Fatal(err)
		}

		if n := testingutil.MustCountRows(t, dst.DB); n != 50 {
			t.Fatalf("n=%d, want 50", n)
		} else if total < 2 {
			t.Fatalf("unexpected page count: %d", total)
		}

		if err := e.Checkpoint(context.Background(), dst); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("ToMemory", func(t *testing.T) {
		e := mattn.NewEngine()
		path, sqldb := testingutil.MustCreateDB(t, t.TempDir(), "src.db", 10)
		defer testingutil.MustCloseSQLDB(t, sqldb)

		src := mustOpen(t, e, path, sqlitebackup.ConnectOptions{})
		dst := mustOpen(t, e, sqlitebackup.MemoryDestination, sqlitebackup.ConnectOptions{})
		if !dst.IsMemory() {
			t.Fatal("expected memory database")
		}

		if err := e.Backup(context.Background(), dst, src, sqlitebackup.BackupOptions{}); err != nil {
			t.Fatal(err)
		}
		if n := testingutil.MustCountRows(t, dst.DB); n != 10 {
			t.Fatalf("n=%d, want 10", n)
		}
	})

	t.Run("ErrNotDatabase", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "db")
		testingutil.MustWriteFile(t, path, "this is not a sqlite database, just some text long enough to fill a header")

		_, err := mattn.NewEngine().Open(context.Background(), path, sqlitebackup.ConnectOptions{})

		var sqliteErr sqlite3.Error
		if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrNotADB {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func mustOpen(tb testing.TB, e *mattn.Engine, path string, opt sqlitebackup.ConnectOptions) *sqlitebackup.DB {
	tb.Helper()
	db, err := e.Open(context.Background(), path, opt)
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	return db
}
