package sqlitebackup_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

func TestResolveDestination(t *testing.T) {
	t.Run("NewFile", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "backup.db")
		if got, err := sqlitebackup.ResolveDestination("/data/app.db", dst); err != nil {
			t.Fatal(err)
		} else if got != dst {
			t.Fatalf("got %s, want %s", got, dst)
		}
	})

	t.Run("Directory", func(t *testing.T) {
		dir := t.TempDir()
		if got, err := sqlitebackup.ResolveDestination("/data/app.db", dir); err != nil {
			t.Fatal(err)
		} else if want := filepath.Join(dir, "app.db"); got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	})

	t.Run("ErrFileExists", func(t *testing.T) {
		dst := mustWriteFile(t, filepath.Join(t.TempDir(), "backup.db"), "")
		if _, err := sqlitebackup.ResolveDestination("/data/app.db", dst); !errors.Is(err, sqlitebackup.ErrDestinationExists) {
			t.Fatalf("unexpected error: %v", err)
		} else if !errors.Is(err, os.ErrExist) {
			t.Fatal("expected error to wrap os.ErrExist")
		}
	})

	t.Run("ErrFileExistsInDirectory", func(t *testing.T) {
		dir := t.TempDir()
		mustWriteFile(t, filepath.Join(dir, "app.db"), "")
		if _, err := sqlitebackup.ResolveDestination("/data/app.db", dir); !errors.Is(err, sqlitebackup.ErrDestinationExists) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrSidecarExists", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "backup.db")
		mustWriteFile(t, dst+"-journal", "stale")
		if _, err := sqlitebackup.ResolveDestination("/data/app.db", dst); !errors.Is(err, sqlitebackup.ErrDestinationExists) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrSidecarExistsInDirectory", func(t *testing.T) {
		dir := t.TempDir()
		mustWriteFile(t, filepath.Join(dir, "app.db-wal"), "stale")
		if _, err := sqlitebackup.ResolveDestination("/data/app.db", dir); !errors.Is(err, sqlitebackup.ErrDestinationExists) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrParentNotFound", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "missing", "backup.db")
		if _, err := sqlitebackup.ResolveDestination("/data/app.db", dst); !errors.Is(err, sqlitebackup.ErrDestinationDirNotFound) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrParentNotDirectory", func(t *testing.T) {
		parent := mustWriteFile(t, filepath.Join(t.TempDir(), "file"), "")
		if _, err := sqlitebackup.ResolveDestination("/data/app.db", filepath.Join(parent, "backup.db")); err == nil {
			t.Fatal("expected error")
		}
	})
}
