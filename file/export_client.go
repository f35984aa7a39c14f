package file

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

func init() {
	sqlitebackup.RegisterExportClientFactory("file", NewExportClientFromURL)
}

// ExportClientType is the client type for this package.
const ExportClientType = "file"

var _ sqlitebackup.ExportClient = (*ExportClient)(nil)

// ExportClient is a client for exporting backups to a local directory,
// typically a mounted network volume.
type ExportClient struct {
	path string // destination directory

	logger *slog.Logger
}

// NewExportClient returns a new instance of ExportClient.
func NewExportClient(path string) *ExportClient {
	return &ExportClient{
		logger: slog.Default().WithGroup(ExportClientType),
		path:   path,
	}
}

// NewExportClientFromURL creates a new ExportClient from URL components.
func NewExportClientFromURL(scheme, host, urlPath string, query url.Values, userinfo *url.Userinfo) (sqlitebackup.ExportClient, error) {
	if urlPath == "" {
		return nil, fmt.Errorf("file export path required")
	}
	return NewExportClient(urlPath), nil
}

// Type returns "file" as the client type.
func (c *ExportClient) Type() string {
	return ExportClientType
}

// Init creates the destination directory if it does not exist.
func (c *ExportClient) Init(ctx context.Context) error {
	if c.path == "" {
		return fmt.Errorf("file export path required")
	}
	return os.MkdirAll(c.path, 0o755)
}

// Path returns the destination directory.
func (c *ExportClient) Path() string {
	return c.path
}

// FilePath returns the local path for name.
func (c *ExportClient) FilePath(name string) string {
	return filepath.Join(c.path, name)
}

// Exists returns true if name exists in the destination directory.
func (c *ExportClient) Exists(ctx context.Context, name string) (bool, error) {
	if _, err := os.Stat(c.FilePath(name)); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// WriteFile writes the file to a temporary path and renames it into place
// once it has been synced to disk.
func (c *ExportClient) WriteFile(ctx context.Context, name string, rd io.Reader) (err error) {
	filename := c.FilePath(name)
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	tmpFilename := filename + ".tmp"
	f, err := os.OpenFile(tmpFilename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
		if err != nil {
			_ = os.Remove(tmpFilename)
		}
	}()

	if _, err := io.Copy(f, rd); err != nil {
		return err
	} else if err := f.Sync(); err != nil {
		return err
	} else if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpFilename, filename); err != nil {
		return err
	}
	c.logger.Debug("file written", "path", filename)
	return nil
}

// DeleteFile removes name from the destination directory.
func (c *ExportClient) DeleteFile(ctx context.Context, name string) error {
	if err := os.Remove(c.FilePath(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
