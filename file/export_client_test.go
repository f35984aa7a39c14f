package file_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
	"github.com/benbjohnson/sqlite-backup/file"
)

func TestExportClient_Path(t *testing.T) {
	c := file.NewExportClient("/foo/bar")
	if got, want := c.Path(), "/foo/bar"; got != want {
		t.Fatalf("Path()=%v, want %v", got, want)
	}
}

func TestExportClient_Type(t *testing.T) {
	if got, want := file.NewExportClient("").Type(), "file"; got != want {
		t.Fatalf("Type()=%v, want %v", got, want)
	}
}

func TestExportClient_Init(t *testing.T) {
	t.Run("CreateDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		if err := file.NewExportClient(dir).Init(context.Background()); err != nil {
			t.Fatal(err)
		} else if fi, err := os.Stat(dir); err != nil {
			t.Fatal(err)
		} else if !fi.IsDir() {
			t.Fatal("expected directory")
		}
	})
	t.Run("ErrNoPath", func(t *testing.T) {
		if err := file.NewExportClient("").Init(context.Background()); err == nil || err.Error() != `file export path required` {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestExportClient_WriteFile(t *testing.T) {
	ctx := context.Background()
	c := file.NewExportClient(t.TempDir())

	if exists, err := c.Exists(ctx, "db"); err != nil {
		t.Fatal(err)
	} else if exists {
		t.Fatal("expected file to not exist")
	}

	if err := c.WriteFile(ctx, "db", strings.NewReader("foobar")); err != nil {
		t.Fatal(err)
	}

	if exists, err := c.Exists(ctx, "db"); err != nil {
		t.Fatal(err)
	} else if !exists {
		t.Fatal("expected file to exist")
	}

	if buf, err := os.ReadFile(c.FilePath("db")); err != nil {
		t.Fatal(err)
	} else if got, want := string(buf), "foobar"; got != want {
		t.Fatalf("data=%q, want %q", got, want)
	}

	if _, err := os.Stat(c.FilePath("db") + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temporary file to be removed: %v", err)
	}

	if err := c.DeleteFile(ctx, "db"); err != nil {
		t.Fatal(err)
	} else if exists, err := c.Exists(ctx, "db"); err != nil {
		t.Fatal(err)
	} else if exists {
		t.Fatal("expected file to be deleted")
	}

	// Deleting a missing file is not an error.
	if err := c.DeleteFile(ctx, "db"); err != nil {
		t.Fatal(err)
	}
}

func TestNewExportClientFromURL(t *testing.T) {
	dir := t.TempDir()
	client, err := sqlitebackup.NewExportClientFromURL("file://" + dir)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := client.(*file.ExportClient)
	if !ok {
		t.Fatalf("unexpected client type: %T", client)
	} else if got, want := c.Path(), dir; got != want {
		t.Fatalf("Path()=%v, want %v", got, want)
	}
}
