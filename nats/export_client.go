package nats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

func init() {
	sqlitebackup.RegisterExportClientFactory("nats", NewExportClientFromURL)
}

// ExportClientType is the client type for this package.
const ExportClientType = "nats"

var _ sqlitebackup.ExportClient = (*ExportClient)(nil)

// ExportClient is a client for exporting backups to a NATS JetStream
// object store. The bucket must already exist.
type ExportClient struct {
	mu     sync.Mutex
	logger *slog.Logger

	nc          *nats.Conn
	js          jetstream.JetStream
	objectStore jetstream.ObjectStore

	// Configuration
	URL        string   // NATS server URL
	BucketName string   // Object store bucket name
	Path       string   // Base path for objects within the bucket
	Creds      string   // Credentials file path
	Username   string   // Username for authentication
	Password   string   // Password for authentication
	Token      string   // Token for authentication
	RootCAs    []string // Root CA certificates
	ClientCert string   // Client certificate file path
	ClientKey  string   // Client key file path

	// Connection options
	MaxReconnects int           // Maximum reconnection attempts (-1 for unlimited)
	ReconnectWait time.Duration // Wait time between reconnection attempts
	Timeout       time.Duration // Connection timeout
}

// NewExportClient returns a new instance of ExportClient.
func NewExportClient() *ExportClient {
	return &ExportClient{
		logger:        slog.Default().WithGroup(ExportClientType),
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       10 * time.Second,
	}
}

// NewExportClientFromURL creates a new ExportClient from URL components.
// URL format: nats://[user:pass@]host[:port]/bucket[/path]
func NewExportClientFromURL(scheme, host, urlPath string, query url.Values, userinfo *url.Userinfo) (sqlitebackup.ExportClient, error) {
	client := NewExportClient()

	if host != "" {
		client.URL = fmt.Sprintf("nats://%s", host)
	}

	if userinfo != nil {
		client.Username = userinfo.Username()
		client.Password, _ = userinfo.Password()
	}

	bucket, prefix, _ := strings.Cut(strings.Trim(urlPath, "/"), "/")
	if bucket == "" {
		return nil, fmt.Errorf("bucket required for nats export URL")
	}
	client.BucketName = bucket
	client.Path = prefix

	client.Creds = query.Get("creds")
	client.Token = query.Get("token")
	if v := query.Get("rootCA"); v != "" {
		client.RootCAs = []string{v}
	}
	client.ClientCert = query.Get("clientCert")
	client.ClientKey = query.Get("clientKey")
	return client, nil
}

// Type returns "nats" as the client type.
func (c *ExportClient) Type() string {
	return ExportClientType
}

// Init connects to NATS and opens the object store. No-op if already initialized.
func (c *ExportClient) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc != nil {
		return nil
	}

	if err := c.connect(); err != nil {
		return fmt.Errorf("nats: failed to connect: %w", err)
	}

	if c.BucketName == "" {
		return fmt.Errorf("nats: bucket name is required")
	}
	objectStore, err := c.js.ObjectStore(ctx, c.BucketName)
	if err != nil {
		return fmt.Errorf("nats: failed to access object store bucket %q (bucket must be created beforehand): %w", c.BucketName, err)
	}
	c.objectStore = objectStore
	return nil
}

func (c *ExportClient) connect() error {
	opts := []nats.Option{
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.Timeout(c.Timeout),
	}

	switch {
	case c.Creds != "":
		opts = append(opts, nats.UserCredentials(c.Creds))
	case c.Username != "" && c.Password != "":
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	case c.Token != "":
		opts = append(opts, nats.Token(c.Token))
	}

	if c.ClientCert != "" && c.ClientKey != "" {
		opts = append(opts, nats.ClientCert(c.ClientCert, c.ClientKey))
	}
	if len(c.RootCAs) > 0 {
		opts = append(opts, nats.RootCAs(c.RootCAs...))
	}

	url := c.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS server: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.nc = nc
	c.js = js
	return nil
}

// Close closes the NATS connection.
func (c *ExportClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
		c.js = nil
		c.objectStore = nil
	}
	return nil
}

// ObjectName returns the object name for name.
func (c *ExportClient) ObjectName(name string) string {
	return path.Join(c.Path, name)
}

// Exists returns true if an object exists for name.
func (c *ExportClient) Exists(ctx context.Context, name string) (bool, error) {
	if err := c.Init(ctx); err != nil {
		return false, err
	}

	if _, err := c.objectStore.GetInfo(ctx, c.ObjectName(name)); isNotFoundError(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get object info %s: %w", c.ObjectName(name), err)
	}
	return true, nil
}

// WriteFile streams r into the object store.
func (c *ExportClient) WriteFile(ctx context.Context, name string, r io.Reader) error {
	if err := c.Init(ctx); err != nil {
		return err
	}

	objectName := c.ObjectName(name)
	info, err := c.objectStore.Put(ctx, jetstream.ObjectMeta{Name: objectName}, r)
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", objectName, err)
	}

	c.logger.Debug("object written", "bucket", c.BucketName, "name", objectName, "size", info.Size)
	return nil
}

// DeleteFile removes the object for name.
func (c *ExportClient) DeleteFile(ctx context.Context, name string) error {
	if err := c.Init(ctx); err != nil {
		return err
	}

	if err := c.objectStore.Delete(ctx, c.ObjectName(name)); err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete object %s: %w", c.ObjectName(name), err)
	}
	return nil
}

// isNotFoundError checks if the error is a "not found" error.
func isNotFoundError(err error) bool {
	return err != nil && (errors.Is(err, jetstream.ErrObjectNotFound) || strings.Contains(err.Error(), "not found"))
}
