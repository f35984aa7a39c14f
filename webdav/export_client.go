package webdav

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"sync"
	"time"

	"github.com/studio-b12/gowebdav"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

func init() {
	sqlitebackup.RegisterExportClientFactory("webdav", NewExportClientFromURL)
}

const ExportClientType = "webdav"

const (
	DefaultTimeout = 30 * time.Second
)

var _ sqlitebackup.ExportClient = (*ExportClient)(nil)

type ExportClient struct {
	mu     sync.Mutex
	client *gowebdav.Client
	logger *slog.Logger

	URL      string
	Username string
	Password string
	Path     string
	Timeout  time.Duration
}

func NewExportClient() *ExportClient {
	return &ExportClient{
		logger:  slog.Default().WithGroup(ExportClientType),
		Timeout: DefaultTimeout,
	}
}

// NewExportClientFromURL creates a new ExportClient from URL components.
// URL format: webdav://[user[:password]@]host[:port]/path or webdavs://... (for HTTPS)
func NewExportClientFromURL(scheme, host, urlPath string, query url.Values, userinfo *url.Userinfo) (sqlitebackup.ExportClient, error) {
	if host == "" {
		return nil, fmt.Errorf("host required for webdav export URL")
	}

	client := NewExportClient()

	httpScheme := "http"
	if scheme == "webdavs" {
		httpScheme = "https"
	}

	if userinfo != nil {
		client.Username = userinfo.Username()
		client.Password, _ = userinfo.Password()
	}

	client.URL = fmt.Sprintf("%s://%s", httpScheme, host)
	client.Path = "/" + urlPath
	return client, nil
}

func (c *ExportClient) Type() string {
	return ExportClientType
}

func (c *ExportClient) Init(ctx context.Context) error {
	_, err := c.init(ctx)
	return err
}

// init initializes the connection and returns the WebDAV client.
func (c *ExportClient) init(ctx context.Context) (_ *gowebdav.Client, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	if c.URL == "" {
		return nil, fmt.Errorf("webdav url required")
	}

	c.client = gowebdav.NewClient(c.URL, c.Username, c.Password)
	c.client.SetTimeout(c.Timeout)

	if err := c.client.Connect(); err != nil {
		c.client = nil
		return nil, fmt.Errorf("webdav: cannot connect to server: %w", err)
	}
	return c.client, nil
}

// FilePath returns the remote path for name.
func (c *ExportClient) FilePath(name string) string {
	return path.Join(c.Path, name)
}

func (c *ExportClient) Exists(ctx context.Context, name string) (bool, error) {
	client, err := c.init(ctx)
	if err != nil {
		return false, err
	}

	filename := c.FilePath(name)
	if _, err := client.Stat(filename); os.IsNotExist(err) || gowebdav.IsErrNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("webdav: cannot stat %q: %w", filename, err)
	}
	return true, nil
}

func (c *ExportClient) WriteFile(ctx context.Context, name string, rd io.Reader) error {
	client, err := c.init(ctx)
	if err != nil {
		return err
	}

	filename := c.FilePath(name)

	// Stage to a temporary file so the upload has a known Content-Length.
	// Chunked transfer encoding silently loses data on several common
	// server configurations.
	tmpFile, err := os.CreateTemp("", "sqlite-backup-webdav-*")
	if err != nil {
		return fmt.Errorf("webdav: cannot create temp file: %w", err)
	}
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
	}()

	size, err := io.Copy(tmpFile, rd)
	if err != nil {
		return fmt.Errorf("webdav: cannot copy to temp file: %w", err)
	} else if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("webdav: cannot seek temp file: %w", err)
	}

	if err := client.MkdirAll(path.Dir(filename), 0755); err != nil {
		return fmt.Errorf("webdav: cannot create parent directory %q: %w", path.Dir(filename), err)
	}

	if err := client.WriteStreamWithLength(filename, tmpFile, size, 0644); err != nil {
		return fmt.Errorf("webdav: cannot write file %q: %w", filename, err)
	}

	c.logger.Debug("file written", "url", c.URL, "path", filename, "size", size)
	return nil
}

func (c *ExportClient) DeleteFile(ctx context.Context, name string) error {
	client, err := c.init(ctx)
	if err != nil {
		return err
	}

	filename := c.FilePath(name)
	if err := client.Remove(filename); err != nil && !os.IsNotExist(err) && !gowebdav.IsErrNotFound(err) {
		return fmt.Errorf("webdav: cannot delete %q: %w", filename, err)
	}
	return nil
}
