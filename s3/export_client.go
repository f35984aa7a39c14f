package s3

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

func init() {
	sqlitebackup.RegisterExportClientFactory("s3", NewExportClientFromURL)
}

// ExportClientType is the client type for this package.
const ExportClientType = "s3"

// DefaultRegion is the region used if one is not specified.
const DefaultRegion = "us-east-1"

var _ sqlitebackup.ExportClient = (*ExportClient)(nil)

// ExportClient is a client for exporting backups to S3 or an S3-compatible
// object store.
type ExportClient struct {
	mu       sync.Mutex
	s3       *s3.Client // s3 service
	uploader *manager.Uploader
	logger   *slog.Logger

	// AWS authentication keys.
	AccessKeyID     string
	SecretAccessKey string

	// S3 bucket information
	Region         string
	Bucket         string
	Path           string
	Endpoint       string
	ForcePathStyle bool
	SkipVerify     bool
	SignPayload    bool

	// Upload configuration
	PartSize    int64 // Part size for multipart uploads (default: 5MB)
	Concurrency int   // Number of concurrent parts to upload (default: 5)
}

// NewExportClient returns a new instance of ExportClient.
func NewExportClient() *ExportClient {
	return &ExportClient{
		logger:      slog.Default().WithGroup(ExportClientType),
		SignPayload: true,
	}
}

// NewExportClientFromURL creates a new ExportClient from URL components.
func NewExportClientFromURL(scheme, host, urlPath string, query url.Values, userinfo *url.Userinfo) (sqlitebackup.ExportClient, error) {
	client := NewExportClient()

	var bucket, region, endpoint string
	var forcePathStyle bool
	if strings.HasPrefix(host, "arn:") {
		bucket = host
		region = sqlitebackup.RegionFromS3ARN(host)
	} else {
		bucket, region, endpoint, forcePathStyle = parseHost(host)
	}

	forcePathStyleSet := query.Get("forcePathStyle") != ""
	if qEndpoint := query.Get("endpoint"); qEndpoint != "" {
		if !strings.HasPrefix(qEndpoint, "http://") && !strings.HasPrefix(qEndpoint, "https://") {
			qEndpoint = "http://" + qEndpoint
		}
		endpoint = qEndpoint
		if query.Get("forcePathStyle") != "false" {
			forcePathStyle = true
		}
	}
	if qRegion := query.Get("region"); qRegion != "" {
		region = qRegion
	}
	if forcePathStyleSet {
		forcePathStyle = query.Get("forcePathStyle") == "true"
	}
	if v, ok := sqlitebackup.BoolQueryValue(query, "skipVerify", "skip-verify"); ok {
		client.SkipVerify = v
	}
	if v, ok := sqlitebackup.BoolQueryValue(query, "signPayload", "sign-payload"); ok {
		client.SignPayload = v
	}

	if bucket == "" {
		return nil, fmt.Errorf("bucket required for s3 export URL")
	}

	// Filebase, Backblaze B2 and MinIO only serve path-style URLs.
	if !forcePathStyleSet {
		if sqlitebackup.IsFilebaseEndpoint(endpoint) ||
			sqlitebackup.IsBackblazeEndpoint(endpoint) ||
			sqlitebackup.IsMinIOEndpoint(endpoint) {
			forcePathStyle = true
		}
	}

	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		client.AccessKeyID = v
	} else if v := os.Getenv("SQLITE_BACKUP_ACCESS_KEY_ID"); v != "" {
		client.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		client.SecretAccessKey = v
	} else if v := os.Getenv("SQLITE_BACKUP_SECRET_ACCESS_KEY"); v != "" {
		client.SecretAccessKey = v
	}

	client.Bucket = bucket
	client.Path = urlPath
	client.Region = region
	client.Endpoint = endpoint
	client.ForcePathStyle = forcePathStyle
	return client, nil
}

// Type returns "s3" as the client type.
func (c *ExportClient) Type() string {
	return ExportClientType
}

// Init initializes the connection to S3. No-op if already initialized.
func (c *ExportClient) Init(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.s3 != nil {
		return nil
	}

	if c.Bucket == "" {
		return fmt.Errorf("s3: bucket name is required")
	}

	// Custom endpoints are usually not AWS and do not need a real region.
	region := c.Region
	if region == "" {
		if c.Endpoint == "" {
			if region, err = c.findBucketRegion(ctx, c.Bucket); err != nil {
				return fmt.Errorf("s3: cannot lookup bucket region: %w", err)
			}
		} else {
			region = DefaultRegion
		}
	}

	httpClient := &http.Client{Timeout: 24 * time.Hour}
	if c.SkipVerify {
		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		}
	}

	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithRetryMode(aws.RetryModeAdaptive),
		config.WithRetryMaxAttempts(10),
		config.WithHTTPClient(httpClient),
	}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return fmt.Errorf("s3: cannot load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = c.ForcePathStyle
			o.UseARNRegion = true
			o.APIOptions = append(o.APIOptions, c.middlewareOption())
		},
	}

	// S3-compatible providers reject the aws-chunked encoding used by the
	// SDK's default checksum calculation.
	if c.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		})
	}
	c.configureEndpoint(&s3Opts)

	c.s3 = s3.NewFromConfig(cfg, s3Opts...)

	c.uploader = manager.NewUploader(c.s3, func(u *manager.Uploader) {
		if c.PartSize > 0 {
			u.PartSize = c.PartSize
		}
		if c.Concurrency > 0 {
			u.Concurrency = c.Concurrency
		}
	})
	return nil
}

func (c *ExportClient) configureEndpoint(opts *[]func(*s3.Options)) {
	if c.Endpoint == "" {
		return
	}
	*opts = append(*opts, func(o *s3.Options) {
		o.UsePathStyle = c.ForcePathStyle

		endpoint := c.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		o.BaseEndpoint = aws.String(endpoint)
		if strings.HasPrefix(endpoint, "http://") {
			o.EndpointOptions.DisableHTTPS = true
		}
	})
}

// findBucketRegion looks up the AWS region for a bucket.
func (c *ExportClient) findBucketRegion(ctx context.Context, bucket string) (string, error) {
	var configOpts []func(*config.LoadOptions) error
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return "", fmt.Errorf("s3: cannot load aws config for region lookup: %w", err)
	}
	cfg.Region = DefaultRegion

	var s3Opts []func(*s3.Options)
	c.configureEndpoint(&s3Opts)

	out, err := s3.NewFromConfig(cfg, s3Opts...).GetBucketLocation(ctx, &s3.GetBucketLocationInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return "", err
	}
	if out.LocationConstraint == "" {
		return DefaultRegion, nil
	}
	return string(out.LocationConstraint), nil
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
	if _, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
	}); isNotExists(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("s3: head object %s: %w", key, err)
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
	out, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("s3: upload to %s: %w", key, err)
	} else if out.ETag == nil {
		return fmt.Errorf("s3: upload failed: no ETag returned")
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
	if _, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
	}); err != nil && !isNotExists(err) {
		return fmt.Errorf("s3: delete object %s: %w", key, err)
	}
	return nil
}

func (c *ExportClient) middlewareOption() func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		if err := stack.Build.Add(
			middleware.BuildMiddlewareFunc(
				"SQLiteBackupUserAgent",
				func(ctx context.Context, in middleware.BuildInput, next middleware.BuildHandler) (
					out middleware.BuildOutput, metadata middleware.Metadata, err error,
				) {
					if req, ok := in.Request.(*smithyhttp.Request); ok {
						current := req.Header.Get("User-Agent")
						if current == "" {
							req.Header.Set("User-Agent", "sqlite-backup")
						} else if !strings.Contains(current, "sqlite-backup") {
							req.Header.Set("User-Agent", "sqlite-backup "+current)
						}
					}
					return next.HandleBuild(ctx, in)
				},
			),
			middleware.After,
		); err != nil {
			return err
		}

		if sqlitebackup.IsTigrisEndpoint(c.Endpoint) {
			if err := stack.Build.Add(
				middleware.BuildMiddlewareFunc(
					"SQLiteBackupTigrisConsistent",
					func(ctx context.Context, in middleware.BuildInput, next middleware.BuildHandler) (
						out middleware.BuildOutput, metadata middleware.Metadata, err error,
					) {
						if req, ok := in.Request.(*smithyhttp.Request); ok {
							req.Header.Set("X-Tigris-Consistent", "true")
						}
						return next.HandleBuild(ctx, in)
					},
				),
				middleware.After,
			); err != nil {
				return err
			}
		}

		// Some S3-compatible providers do not support SigV4 payload hashing.
		if !c.SignPayload {
			_ = v4.RemoveComputePayloadSHA256Middleware(stack)
			if err := v4.AddUnsignedPayloadMiddleware(stack); err != nil {
				return err
			}
			_ = v4.RemoveContentSHA256HeaderMiddleware(stack)
			if err := v4.AddContentSHA256HeaderMiddleware(stack); err != nil {
				return err
			}
		}

		// aws-chunked trailing checksums are rejected with UNSIGNED-PAYLOAD and
		// by most S3-compatible providers.
		if !c.SignPayload || c.Endpoint != "" {
			stack.Finalize.Remove("addInputChecksumTrailer")
		}
		return nil
	}
}

// isNotExists returns true if err reports a missing object. HeadObject has
// no response body so it reports "NotFound" instead of "NoSuchKey".
func isNotExists(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
