package sqlitebackup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"
)

// RetryConfig configures retry behavior for RetryExportClient.
type RetryConfig struct {
	// InitialDelay is the delay before the first retry.
	// Default: 1 second
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	// Default: 30 seconds
	MaxDelay time.Duration

	// MaxRetries is the maximum number of retry attempts.
	// 0 means no retries, -1 means infinite retries.
	// Default: 5
	MaxRetries int

	// Logger for retry attempts. If nil, uses slog.Default().
	Logger *slog.Logger
}

// DefaultRetryConfig returns a RetryConfig with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		MaxRetries:   5,
	}
}

var (
	_ ExportClient = (*RetryExportClient)(nil)
	_ io.Closer    = (*RetryExportClient)(nil)
)

// RetryExportClient wraps an ExportClient and retries idempotent operations
// (Exists, DeleteFile) with exponential backoff. WriteFile consumes its
// reader and is never retried.
type RetryExportClient struct {
	client ExportClient
	config RetryConfig
}

// NewRetryExportClient returns a new RetryExportClient wrapping client.
func NewRetryExportClient(client ExportClient, config RetryConfig) *RetryExportClient {
	if config.InitialDelay == 0 {
		config.InitialDelay = 1 * time.Second
	}
	if config.MaxDelay == 0 {
		config.MaxDelay = 30 * time.Second
	}
	return &RetryExportClient{client: client, config: config}
}

// Type returns the underlying client's type.
func (c *RetryExportClient) Type() string { return c.client.Type() }

// Init initializes the underlying client.
func (c *RetryExportClient) Init(ctx context.Context) error { return c.client.Init(ctx) }

// Exists checks for name with retry on transient errors.
func (c *RetryExportClient) Exists(ctx context.Context, name string) (exists bool, err error) {
	err = c.retry(ctx, "Exists", name, func() (err error) {
		exists, err = c.client.Exists(ctx, name)
		return err
	})
	return exists, err
}

// WriteFile delegates to the underlying client without retry.
func (c *RetryExportClient) WriteFile(ctx context.Context, name string, r io.Reader) error {
	return c.client.WriteFile(ctx, name, r)
}

// DeleteFile removes name with retry on transient errors.
func (c *RetryExportClient) DeleteFile(ctx context.Context, name string) error {
	return c.retry(ctx, "DeleteFile", name, func() error {
		return c.client.DeleteFile(ctx, name)
	})
}

// Close closes the underlying client if it holds a connection.
func (c *RetryExportClient) Close() error {
	if closer, ok := c.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Unwrap returns the underlying ExportClient.
func (c *RetryExportClient) Unwrap() ExportClient { return c.client }

func (c *RetryExportClient) retry(ctx context.Context, op, name string, fn func() error) error {
	var lastErr error
	delay := c.config.InitialDelay

	for attempt := 0; c.config.MaxRetries < 0 || attempt <= c.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		} else if !shouldRetry(err) {
			return err
		}
		lastErr = err

		if attempt == c.config.MaxRetries {
			break
		}

		c.logger().Warn(op+" failed, retrying",
			"name", name,
			"attempt", attempt+1,
			"max_retries", c.config.MaxRetries,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.config.MaxDelay {
			delay = c.config.MaxDelay
		}
	}
	return lastErr
}

func (c *RetryExportClient) logger() *slog.Logger {
	if c.config.Logger != nil {
		return c.config.Logger
	}
	return slog.Default()
}

// shouldRetry returns true if the error is retryable.
func shouldRetry(err error) bool {
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
