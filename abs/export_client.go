package abs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

func init() {
	sqlitebackup.RegisterExportClientFactory("abs", NewExportClientFromURL)
}

// ExportClientType is the client type for this package.
const ExportClientType = "abs"

var _ sqlitebackup.ExportClient = (*ExportClient)(nil)

// ExportClient is a client for exporting backups to Azure Blob Storage.
type ExportClient struct {
	mu     sync.Mutex
	client *azblob.Client
	logger *slog.Logger

	// Azure credentials. If AccountKey is empty and not set in the
	// environment, the default Azure credential chain is used.
	AccountName string
	AccountKey  string
	Endpoint    string

	// Azure Blob Storage container information
	Bucket string
	Path   string
}

// NewExportClient returns a new instance of ExportClient.
func NewExportClient() *ExportClient {
	return &ExportClient{
		logger: slog.Default().WithGroup(ExportClientType),
	}
}

// NewExportClientFromURL creates a new ExportClient from URL components.
// The URL has the form abs://[account@]container/path.
func NewExportClientFromURL(scheme, host, urlPath string, query url.Values, userinfo *url.Userinfo) (sqlitebackup.ExportClient, error) {
	if host == "" {
		return nil, fmt.Errorf("container required for abs export URL")
	}

	client := NewExportClient()
	if userinfo != nil {
		client.AccountName = userinfo.Username()
		client.AccountKey, _ = userinfo.Password()
	}
	client.Bucket = host
	client.Path = urlPath
	client.Endpoint = query.Get("endpoint")
	return client, nil
}

// Type returns "abs" as the client type.
func (c *ExportClient) Type() string {
	return ExportClientType
}

// Init initializes the connection to Azure. No-op if already initialized.
func (c *ExportClient) Init(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	accountName := c.AccountName
	if accountName == "" {
		accountName = os.Getenv("SQLITE_BACKUP_AZURE_ACCOUNT_NAME")
	}
	accountKey := c.AccountKey
	if accountKey == "" {
		accountKey = os.Getenv("SQLITE_BACKUP_AZURE_ACCOUNT_KEY")
	}

	endpoint := c.Endpoint
	if endpoint == "" {
		if accountName == "" {
			return fmt.Errorf("abs: account name required")
		}
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	}

	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				TryTimeout: 24 * time.Hour,
			},
		},
	}

	if accountKey != "" {
		credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
		if err != nil {
			return fmt.Errorf("abs: cannot create shared key credential: %w", err)
		}
		if c.client, err = azblob.NewClientWithSharedKeyCredential(endpoint, credential, opts); err != nil {
			return fmt.Errorf("abs: cannot create client: %w", err)
		}
		return nil
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return fmt.Errorf("abs: cannot create default credential: %w", err)
	}
	if c.client, err = azblob.NewClient(endpoint, credential, opts); err != nil {
		return fmt.Errorf("abs: cannot create client: %w", err)
	}
	return nil
}

// Key returns the blob name for name.
func (c *ExportClient) Key(name string) string {
	return path.Join(c.Path, name)
}

// Exists returns true if a blob exists for name.
func (c *ExportClient) Exists(ctx context.Context, name string) (bool, error) {
	if err := c.Init(ctx); err != nil {
		return false, err
	}

	key := c.Key(name)
	blobClient := c.client.ServiceClient().NewContainerClient(c.Bucket).NewBlobClient(key)
	if _, err := blobClient.GetProperties(ctx, nil); isNotExists(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("abs: get properties %s: %w", key, err)
	}
	return true, nil
}

// WriteFile uploads rd as a block blob.
func (c *ExportClient) WriteFile(ctx context.Context, name string, rd io.Reader) error {
	if err := c.Init(ctx); err != nil {
		return err
	}

	key := c.Key(name)
	contentType := "application/vnd.sqlite3"
	if _, err := c.client.UploadStream(ctx, c.Bucket, key, rd, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}); err != nil {
		return fmt.Errorf("abs: upload %s: %w", key, err)
	}

	c.logger.Debug("blob uploaded", "container", c.Bucket, "key", key)
	return nil
}

// DeleteFile removes the blob for name.
func (c *ExportClient) DeleteFile(ctx context.Context, name string) error {
	if err := c.Init(ctx); err != nil {
		return err
	}

	key := c.Key(name)
	if _, err := c.client.DeleteBlob(ctx, c.Bucket, key, nil); err != nil && !isNotExists(err) {
		return fmt.Errorf("abs: delete %s: %w", key, err)
	}
	return nil
}

// isNotExists returns true if err reports a missing blob. HEAD responses
// have no body so the status code is checked as well.
func isNotExists(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
