package sqlitebackup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
	"github.com/benbjohnson/sqlite-backup/mock"
)

func TestWatchCopier_CopyFile(t *testing.T) {
	t.Run("Clean", func(t *testing.T) {
		dir := t.TempDir()
		src := mustWriteFile(t, filepath.Join(dir, "src"), "data")
		dst := filepath.Join(t.TempDir(), "dst")

		c := sqlitebackup.NewWatchCopier(nil)
		outcome, err := c.CopyFile(context.Background(), src, dst)
		if err != nil {
			t.Fatal(err)
		} else if !outcome.Clean {
			t.Fatal("expected clean copy")
		} else if buf, err := os.ReadFile(dst); err != nil {
			t.Fatal(err)
		} else if got, want := string(buf), "data"; got != want {
			t.Fatalf("content=%q, want %q", got, want)
		}
	})

	// The wrapped copier reports a clean copy but the source was written
	// while it ran.
	t.Run("WriteDuringCopy", func(t *testing.T) {
		dir := t.TempDir()
		src := mustWriteFile(t, filepath.Join(dir, "src"), "data")

		c := sqlitebackup.NewWatchCopier(&mock.Copier{
			CopyFileFunc: func(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error) {
				if err := os.WriteFile(src, []byte("changed"), 0o644); err != nil {
					return sqlitebackup.CopyOutcome{}, err
				}
				return sqlitebackup.CopyOutcome{Path: dst, Clean: true}, nil
			},
		})
		c.Settle = 100 * time.Millisecond

		if outcome, err := c.CopyFile(context.Background(), src, filepath.Join(t.TempDir(), "dst")); err != nil {
			t.Fatal(err)
		} else if outcome.Clean {
			t.Fatal("expected unclean copy")
		}
	})

	t.Run("RenameDuringCopy", func(t *testing.T) {
		dir := t.TempDir()
		src := mustWriteFile(t, filepath.Join(dir, "src"), "data")
		replacement := mustWriteFile(t, filepath.Join(dir, "replacement"), "new")

		c := sqlitebackup.NewWatchCopier(&mock.Copier{
			CopyFileFunc: func(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error) {
				if err := os.Rename(replacement, src); err != nil {
					return sqlitebackup.CopyOutcome{}, err
				}
				return sqlitebackup.CopyOutcome{Path: dst, Clean: true}, nil
			},
		})
		c.Settle = 100 * time.Millisecond

		if outcome, err := c.CopyFile(context.Background(), src, filepath.Join(t.TempDir(), "dst")); err != nil {
			t.Fatal(err)
		} else if outcome.Clean {
			t.Fatal("expected unclean copy")
		}
	})

	t.Run("OtherFileIgnored", func(t *testing.T) {
		dir := t.TempDir()
		src := mustWriteFile(t, filepath.Join(dir, "src"), "data")
		other := filepath.Join(dir, "src-shm")

		c := sqlitebackup.NewWatchCopier(&mock.Copier{
			CopyFileFunc: func(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error) {
				if err := os.WriteFile(other, []byte("shm"), 0o644); err != nil {
					return sqlitebackup.CopyOutcome{}, err
				}
				return sqlitebackup.CopyOutcome{Path: dst, Clean: true}, nil
			},
		})
		c.Settle = 100 * time.Millisecond

		if outcome, err := c.CopyFile(context.Background(), src, filepath.Join(t.TempDir(), "dst")); err != nil {
			t.Fatal(err)
		} else if !outcome.Clean {
			t.Fatal("expected clean copy")
		}
	})

	t.Run("ErrCopy", func(t *testing.T) {
		dir := t.TempDir()
		src := mustWriteFile(t, filepath.Join(dir, "src"), "data")

		errMarker := errors.New("marker")
		c := sqlitebackup.NewWatchCopier(&mock.Copier{
			CopyFileFunc: func(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error) {
				return sqlitebackup.CopyOutcome{}, errMarker
			},
		})
		if _, err := c.CopyFile(context.Background(), src, filepath.Join(dir, "dst")); !errors.Is(err, errMarker) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
