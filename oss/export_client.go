package oss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

func init() {
	sqlitebackup.RegisterExportClientFactory("oss", NewExportClientFromURL)
}

// ExportClientType is the client type for this package.
const ExportClientType = "oss"

// DefaultRegion is the region used if one is not specified.
const DefaultRegion = "cn-hangzhou"

var _ sqlitebackup.ExportClient = (*ExportClient)(nil)

// ExportClient is a client for exporting backups to Alibaba Cloud OSS.
type ExportClient struct {
	mu       sync.Mutex
	client   *oss.Client
	uploader *oss.Uploader
	logger   *slog.Logger

	// Alibaba Cloud authentication keys.
	AccessKeyID     string
	AccessKeySecret string

	// OSS bucket information
	Region   string
	Bucket   string
	Path     string
	Endpoint string

	// Upload configuration
	PartSize    int64 // Part size for multipart uploads (default: 5MB)
	Concurrency int   // Number of concurrent parts to upload (default: 3)
}

// NewExportClient returns a new instance of ExportClient.
func NewExportClient() *ExportClient {
	return &ExportClient{
		logger: slog.Default().WithGroup(ExportClientType),
	}
}

// NewExportClientFromURL creates a new ExportClient from URL components.
// URL format: oss://bucket[.oss-region.aliyuncs.com]/path
func NewExportClientFromURL(scheme, host, urlPath string, query url.Values, userinfo *url.Userinfo) (sqlitebackup.ExportClient, error) {
	client := NewExportClient()

	bucket, region, _ := ParseHost(host)
	if bucket == "" {
		return nil, fmt.Errorf("bucket required for oss export URL")
	}

	client.Bucket = bucket
	client.Region = region
	client.Path = urlPath
	if v := query.Get("region"); v != "" {
		client.Region = v
	}
	client.Endpoint = query.Get("endpoint")
	return client, nil
}

// Type returns "oss" as the client type.
func (c *ExportClient) Type() string {
	return ExportClientType
}

// Init initializes the connection to OSS. No-op if already initialized.
func (c *ExportClient) Init(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	if c.Bucket == "" {
		return fmt.Errorf("oss: bucket name is required")
	}

	region := c.Region
	if region == "" {
		region = DefaultRegion
	}

	cfg := oss.LoadDefaultConfig()
	if c.AccessKeyID != "" && c.AccessKeySecret != "" {
		cfg = cfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.AccessKeySecret),
		)
	} else {
		cfg = cfg.WithCredentialsProvider(
			credentials.NewEnvironmentVariableCredentialsProvider(),
		)
	}
	cfg = cfg.WithRegion(region)

	if c.Endpoint != "" {
		endpoint := c.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		cfg = cfg.WithEndpoint(endpoint)
	}

	c.client = oss.NewClient(cfg)
	c.uploader = c.client.NewUploader(func(o *oss.UploaderOptions) {
		if c.PartSize > 0 {
			o.PartSize = c.PartSize
		}
		if c.Concurrency > 0 {
			o.ParallelNum = c.Concurrency
		}
	})
	return nil
}

// Key returns the object key for name.
func (c *ExportClient) Key(name string) string {
	return path.Join(c.Path, name)
}

// Exists returns true if an object exists for name.
func (c *ExportClient) Exists(ctx context.Context, name string) (bool, error) {
	if err := c.Init(ctx); err != nil {
		return false, err
	}

	key := c.Key(name)
	if _, err := c.client.HeadObject(ctx, &oss.HeadObjectRequest{
		Bucket: oss.Ptr(c.Bucket),
		Key:    oss.Ptr(key),
	}); isNotExists(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("oss: head object %s: %w", key, err)
	}
	return true, nil
}

// WriteFile uploads r to the object for name. Large files are uploaded in
// parts.
func (c *ExportClient) WriteFile(ctx context.Context, name string, r io.Reader) error {
	if err := c.Init(ctx); err != nil {
		return err
	}

	key := c.Key(name)
	result, err := c.uploader.UploadFrom(ctx, &oss.PutObjectRequest{
		Bucket: oss.Ptr(c.Bucket),
		Key:    oss.Ptr(key),
	}, r)
	if err != nil {
		return fmt.Errorf("oss: upload to %s: %w", key, err)
	} else if result.ETag == nil || *result.ETag == "" {
		return fmt.Errorf("oss: upload failed: no ETag returned")
	}

	c.logger.Debug("object uploaded", "bucket", c.Bucket, "key", key)
	return nil
}

// DeleteFile removes the object for name.
func (c *ExportClient) DeleteFile(ctx context.Context, name string) error {
	if err := c.Init(ctx); err != nil {
		return err
	}

	key := c.Key(name)
	if _, err := c.client.DeleteObject(ctx, &oss.DeleteObjectRequest{
		Bucket: oss.Ptr(c.Bucket),
		Key:    oss.Ptr(key),
	}); err != nil && !isNotExists(err) {
		return fmt.Errorf("oss: delete object %s: %w", key, err)
	}
	return nil
}

// ParseHost extracts the bucket and region from an OSS host name.
func ParseHost(host string) (bucket, region, endpoint string) {
	if a := ossInternalRegex.FindStringSubmatch(host); len(a) > 1 {
		return a[1], a[2], ""
	}
	if a := ossRegex.FindStringSubmatch(host); len(a) > 1 {
		return a[1], a[2], ""
	}
	return host, "", ""
}

var (
	// oss-cn-hangzhou.aliyuncs.com or bucket.oss-cn-hangzhou.aliyuncs.com
	ossRegex = regexp.MustCompile(`^(?:([^.]+)\.)?oss-([^.]+)\.aliyuncs\.com$`)
	// bucket.oss-cn-hangzhou-internal.aliyuncs.com
	ossInternalRegex = regexp.MustCompile(`^(?:([^.]+)\.)?oss-(.+?)-internal\.aliyuncs\.com$`)
)

// isNotExists returns true if err reports a missing object. HEAD responses
// carry no error body so the status code is checked as well.
func isNotExists(err error) bool {
	var serviceErr *oss.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code == "NoSuchKey" || serviceErr.StatusCode == http.StatusNotFound
	}
	return false
}
