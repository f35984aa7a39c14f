package gs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

func init() {
	sqlitebackup.RegisterExportClientFactory("gs", NewExportClientFromURL)
}

// ExportClientType is the client type for this package.
const ExportClientType = "gs"

var _ sqlitebackup.ExportClient = (*ExportClient)(nil)

// ExportClient is a client for exporting backups to Google Cloud Storage.
type ExportClient struct {
	mu     sync.Mutex
	client *storage.Client       // gs client
	bkt    *storage.BucketHandle // gs bucket handle
	logger *slog.Logger

	// GS bucket information
	Bucket string
	Path   string

	// Endpoint overrides the storage API endpoint, e.g. for an emulator.
	// Requests to a custom endpoint are sent without authentication.
	Endpoint string
}

// NewExportClient returns a new instance of ExportClient.
func NewExportClient() *ExportClient {
	return &ExportClient{
		logger: slog.Default().WithGroup(ExportClientType),
	}
}

// NewExportClientFromURL creates a new ExportClient from URL components.
func NewExportClientFromURL(scheme, host, urlPath string, query url.Values, userinfo *url.Userinfo) (sqlitebackup.ExportClient, error) {
	if host == "" {
		return nil, fmt.Errorf("bucket required for gs export URL")
	}

	client := NewExportClient()
	client.Bucket = host
	client.Path = urlPath
	client.Endpoint = query.Get("endpoint")
	return client, nil
}

// Type returns "gs" as the client type.
func (c *ExportClient) Type() string {
	return ExportClientType
}

// Init initializes the connection to GS. No-op if already initialized.
func (c *ExportClient) Init(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	var opts []option.ClientOption
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint), option.WithoutAuthentication())
	}

	if c.client, err = storage.NewClient(ctx, opts...); err != nil {
		return fmt.Errorf("failed to create GCS client (bucket: %s): %w", c.Bucket, err)
	}
	c.bkt = c.client.Bucket(c.Bucket)
	return nil
}

// Key returns the object name for name.
func (c *ExportClient) Key(name string) string {
	return path.Join(c.Path, name)
}

// Exists returns true if an object exists for name.
func (c *ExportClient) Exists(ctx context.Context, name string) (bool, error) {
	if err := c.Init(ctx); err != nil {
		return false, err
	}

	if _, err := c.bkt.Object(c.Key(name)).Attrs(ctx); isNotExists(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("gs: cannot read attributes of %q: %w", c.Key(name), err)
	}
	return true, nil
}

// WriteFile writes rd to the object for name.
func (c *ExportClient) WriteFile(ctx context.Context, name string, rd io.Reader) error {
	if err := c.Init(ctx); err != nil {
		return err
	}

	key := c.Key(name)
	w := c.bkt.Object(key).NewWriter(ctx)
	defer w.Close()

	n, err := io.Copy(w, rd)
	if err != nil {
		return err
	} else if err := w.Close(); err != nil {
		return err
	}

	c.logger.Debug("object written", "bucket", c.Bucket, "key", key, "size", n)
	return nil
}

// DeleteFile removes the object for name.
func (c *ExportClient) DeleteFile(ctx context.Context, name string) error {
	if err := c.Init(ctx); err != nil {
		return err
	}

	if err := c.bkt.Object(c.Key(name)).Delete(ctx); err != nil && !isNotExists(err) {
		return fmt.Errorf("gs: cannot delete object %q: %w", c.Key(name), err)
	}
	return nil
}

func isNotExists(err error) bool {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return true
	}
	var e *googleapi.Error
	return errors.As(err, &e) && e.Code == 404
}
