package sqlitebackup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
	"github.com/benbjohnson/sqlite-backup/mock"
)

func TestFileSetCopier_Copy(t *testing.T) {
	t.Run("Clean", func(t *testing.T) {
		srcDir, dstDir := t.TempDir(), t.TempDir()
		path := mustWriteFile(t, filepath.Join(srcDir, "db"), "main")
		mustWriteFile(t, path+"-wal", "wal")
		set, err := sqlitebackup.ResolveFileSet(path)
		if err != nil {
			t.Fatal(err)
		}

		result, err := sqlitebackup.NewFileSetCopier(nil, 3).Copy(context.Background(), set, dstDir)
		if err != nil {
			t.Fatal(err)
		} else if !result.Clean {
			t.Fatal("expected clean result")
		} else if got, want := result.Attempts, 1; got != want {
			t.Fatalf("Attempts=%d, want %d", got, want)
		} else if got, want := len(result.Outcomes), 2; got != want {
			t.Fatalf("len(Outcomes)=%d, want %d", got, want)
		}

		for name, want := range map[string]string{"db": "main", "db-wal": "wal"} {
			if buf, err := os.ReadFile(filepath.Join(dstDir, name)); err != nil {
				t.Fatal(err)
			} else if string(buf) != want {
				t.Fatalf("%s=%q, want %q", name, buf, want)
			}
		}
	})

	t.Run("ZeroRetriesAlwaysUnclean", func(t *testing.T) {
		set := sqlitebackup.FileSet{"/src/db"}
		var n int
		c := sqlitebackup.NewFileSetCopier(&mock.Copier{
			CopyFileFunc: func(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error) {
				n++
				return sqlitebackup.CopyOutcome{Path: dst}, nil
			},
		}, 0)

		result, err := c.Copy(context.Background(), set, t.TempDir())
		if err != nil {
			t.Fatal(err)
		} else if result.Clean {
			t.Fatal("expected unclean result")
		} else if got, want := result.Attempts, 1; got != want {
			t.Fatalf("Attempts=%d, want %d", got, want)
		} else if got, want := n, 1; got != want {
			t.Fatalf("copies=%d, want %d", got, want)
		}
	})

	t.Run("CleanOnThirdAttempt", func(t *testing.T) {
		set := sqlitebackup.FileSet{"/src/db", "/src/db-wal"}
		var mu sync.Mutex
		copies := make(map[string]int)
		c := sqlitebackup.NewFileSetCopier(&mock.Copier{
			CopyFileFunc: func(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error) {
				mu.Lock()
				defer mu.Unlock()
				copies[src]++
				// The WAL changes during the first two passes.
				clean := src != "/src/db-wal" || copies[src] >= 3
				return sqlitebackup.CopyOutcome{Path: dst, Clean: clean}, nil
			},
		}, 3)

		dir := t.TempDir()
		result, err := c.Copy(context.Background(), set, dir)
		if err != nil {
			t.Fatal(err)
		} else if !result.Clean {
			t.Fatal("expected clean result")
		} else if got, want := result.Attempts, 3; got != want {
			t.Fatalf("Attempts=%d, want %d", got, want)
		} else if got, want := copies["/src/db"], 3; got != want {
			t.Fatalf("main copies=%d, want %d", got, want)
		} else if got, want := result.Outcomes[1].Path, filepath.Join(dir, "db-wal"); got != want {
			t.Fatalf("Path=%s, want %s", got, want)
		}
	})

	t.Run("StopsAtFirstUncleanFile", func(t *testing.T) {
		set := sqlitebackup.FileSet{"/src/db", "/src/db-wal", "/src/db-shm"}
		var srcs []string
		c := sqlitebackup.NewFileSetCopier(&mock.Copier{
			CopyFileFunc: func(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error) {
				srcs = append(srcs, src)
				// Clean on the second pass only.
				clean := src != "/src/db-wal" || len(srcs) > 2
				return sqlitebackup.CopyOutcome{Path: dst, Clean: clean}, nil
			},
		}, 2)

		result, err := c.Copy(context.Background(), set, t.TempDir())
		if err != nil {
			t.Fatal(err)
		} else if !result.Clean {
			t.Fatal("expected clean result")
		} else if got, want := srcs, []string{"/src/db", "/src/db-wal", "/src/db", "/src/db-wal", "/src/db-shm"}; !slices.Equal(got, want) {
			t.Fatalf("copies=%v, want %v", got, want)
		}
	})

	// Once retries are exhausted the last pass still stages the whole set,
	// so a non-strict backup keeps the WAL.
	t.Run("FinalAttemptCopiesEveryFile", func(t *testing.T) {
		srcDir, dstDir := t.TempDir(), t.TempDir()
		path := mustWriteFile(t, filepath.Join(srcDir, "src.db"), "main")
		mustWriteFile(t, path+"-wal", "wal")
		mustWriteFile(t, path+"-journal", "journal")
		set, err := sqlitebackup.ResolveFileSet(path)
		if err != nil {
			t.Fatal(err)
		}

		var n int
		c := sqlitebackup.NewFileSetCopier(sqlitebackup.CopierFunc(func(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error) {
			n++
			outcome, err := sqlitebackup.NewStableCopier().CopyFile(ctx, src, dst)
			outcome.Clean = false
			return outcome, err
		}), 3)

		result, err := c.Copy(context.Background(), set, dstDir)
		if err != nil {
			t.Fatal(err)
		} else if result.Clean {
			t.Fatal("expected unclean result")
		} else if got, want := result.Attempts, 3; got != want {
			t.Fatalf("Attempts=%d, want %d", got, want)
		} else if got, want := len(result.Outcomes), 3; got != want {
			t.Fatalf("len(Outcomes)=%d, want %d", got, want)
		} else if got, want := n, 1+1+3; got != want {
			t.Fatalf("copies=%d, want %d", got, want)
		}

		for _, name := range []string{"src.db", "src.db-wal", "src.db-journal"} {
			if _, err := os.Stat(filepath.Join(dstDir, name)); err != nil {
				t.Fatalf("%s not staged: %v", name, err)
			}
		}
	})

	t.Run("ErrCopy", func(t *testing.T) {
		errMarker := errors.New("marker")
		var n int
		c := sqlitebackup.NewFileSetCopier(&mock.Copier{
			CopyFileFunc: func(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error) {
				n++
				return sqlitebackup.CopyOutcome{}, errMarker
			},
		}, 100)

		if _, err := c.Copy(context.Background(), sqlitebackup.FileSet{"/src/db"}, t.TempDir()); !errors.Is(err, errMarker) {
			t.Fatalf("unexpected error: %v", err)
		} else if got, want := n, 1; got != want {
			t.Fatalf("I/O errors must not be retried: copies=%d", got)
		}
	})

	t.Run("ErrContextCanceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		c := sqlitebackup.NewFileSetCopier(&mock.Copier{
			CopyFileFunc: func(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error) {
				cancel()
				return sqlitebackup.CopyOutcome{Path: dst, Clean: true}, nil
			},
		}, 100)

		if _, err := c.Copy(ctx, sqlitebackup.FileSet{"/src/db", "/src/db-wal"}, t.TempDir()); !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrEmptySet", func(t *testing.T) {
		if _, err := sqlitebackup.NewFileSetCopier(nil, 1).Copy(context.Background(), nil, t.TempDir()); err == nil {
			t.Fatal("expected error")
		}
	})
}
