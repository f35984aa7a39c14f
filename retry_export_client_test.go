package sqlitebackup_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
	"github.com/benbjohnson/sqlite-backup/mock"
)

func TestRetryExportClient_Exists_Success(t *testing.T) {
	callCount := 0
	mockClient := &mock.ExportClient{
		ExistsFunc: func(ctx context.Context, name string) (bool, error) {
			callCount++
			return true, nil
		},
	}

	client := sqlitebackup.NewRetryExportClient(mockClient, sqlitebackup.RetryConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxRetries:   3,
	})

	exists, err := client.Exists(context.Background(), "db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists")
	}
	if callCount != 1 {
		t.Fatalf("expected 1 call, got %d", callCount)
	}
}

func TestRetryExportClient_Exists_RetryOnTransientError(t *testing.T) {
	callCount := 0
	mockClient := &mock.ExportClient{
		ExistsFunc: func(ctx context.Context, name string) (bool, error) {
			callCount++
			if callCount < 3 {
				return false, errors.New("network error")
			}
			return false, nil
		},
	}

	client := sqlitebackup.NewRetryExportClient(mockClient, sqlitebackup.RetryConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxRetries:   5,
	})

	if _, err := client.Exists(context.Background(), "db"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if callCount != 3 {
		t.Fatalf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryExportClient_Exists_MaxRetriesExceeded(t *testing.T) {
	callCount := 0
	mockClient := &mock.ExportClient{
		ExistsFunc: func(ctx context.Context, name string) (bool, error) {
			callCount++
			return false, errors.New("network error")
		},
	}

	var logs bytes.Buffer
	client := sqlitebackup.NewRetryExportClient(mockClient, sqlitebackup.RetryConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		MaxRetries:   2,
		Logger:       slog.New(slog.NewTextHandler(&logs, nil)),
	})

	if _, err := client.Exists(context.Background(), "db"); err == nil || err.Error() != "network error" {
		t.Fatalf("unexpected error: %v", err)
	}
	if callCount != 3 {
		t.Fatalf("expected 3 calls, got %d", callCount)
	}

	// Only the attempts followed by a retry are logged.
	if got, want := strings.Count(logs.String(), "failed, retrying"), 2; got != want {
		t.Fatalf("retry logs=%d, want %d:\n%s", got, want, logs.String())
	}
}

func TestRetryExportClient_Exists_NoWaitAfterLastAttempt(t *testing.T) {
	mockClient := &mock.ExportClient{
		ExistsFunc: func(ctx context.Context, name string) (bool, error) {
			return false, errors.New("network error")
		},
	}

	client := sqlitebackup.NewRetryExportClient(mockClient, sqlitebackup.RetryConfig{
		InitialDelay: time.Minute,
		MaxRetries:   0,
	})

	start := time.Now()
	if _, err := client.Exists(context.Background(), "db"); err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("waited %s after final attempt", elapsed)
	}
}

func TestRetryExportClient_Exists_NoRetries(t *testing.T) {
	callCount := 0
	mockClient := &mock.ExportClient{
		ExistsFunc: func(ctx context.Context, name string) (bool, error) {
			callCount++
			return false, errors.New("network error")
		},
	}

	client := sqlitebackup.NewRetryExportClient(mockClient, sqlitebackup.RetryConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxRetries:   0,
	})

	if _, err := client.Exists(context.Background(), "db"); err == nil {
		t.Fatal("expected error")
	}
	if callCount != 1 {
		t.Fatalf("expected 1 call, got %d", callCount)
	}
}

func TestRetryExportClient_DeleteFile_NoRetryOnNotExist(t *testing.T) {
	callCount := 0
	mockClient := &mock.ExportClient{
		DeleteFileFunc: func(ctx context.Context, name string) error {
			callCount++
			return os.ErrNotExist
		},
	}

	client := sqlitebackup.NewRetryExportClient(mockClient, sqlitebackup.RetryConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxRetries:   5,
	})

	if err := client.DeleteFile(context.Background(), "db"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unexpected error: %v", err)
	}
	if callCount != 1 {
		t.Fatalf("expected 1 call, got %d", callCount)
	}
}

func TestRetryExportClient_DeleteFile_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	mockClient := &mock.ExportClient{
		DeleteFileFunc: func(ctx context.Context, name string) error {
			callCount++
			cancel()
			return errors.New("network error")
		},
	}

	client := sqlitebackup.NewRetryExportClient(mockClient, sqlitebackup.RetryConfig{
		InitialDelay: time.Second,
		MaxRetries:   5,
	})

	if err := client.DeleteFile(ctx, "db"); !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
	if callCount != 1 {
		t.Fatalf("expected 1 call, got %d", callCount)
	}
}

func TestRetryExportClient_WriteFile_NoRetry(t *testing.T) {
	callCount := 0
	mockClient := &mock.ExportClient{
		WriteFileFunc: func(ctx context.Context, name string, r io.Reader) error {
			callCount++
			if _, err := io.ReadAll(r); err != nil {
				return err
			}
			return errors.New("network error")
		},
	}

	client := sqlitebackup.NewRetryExportClient(mockClient, sqlitebackup.RetryConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxRetries:   5,
	})

	if err := client.WriteFile(context.Background(), "db", strings.NewReader("data")); err == nil {
		t.Fatal("expected error")
	}
	if callCount != 1 {
		t.Fatalf("expected 1 call, got %d", callCount)
	}
}

func TestRetryExportClient_Close(t *testing.T) {
	t.Run("Closer", func(t *testing.T) {
		inner := &closingExportClient{}
		if err := sqlitebackup.NewRetryExportClient(inner, sqlitebackup.DefaultRetryConfig()).Close(); err != nil {
			t.Fatal(err)
		} else if !inner.closed {
			t.Fatal("expected underlying client to be closed")
		}
	})

	t.Run("NotCloser", func(t *testing.T) {
		if err := sqlitebackup.NewRetryExportClient(&mock.ExportClient{}, sqlitebackup.DefaultRetryConfig()).Close(); err != nil {
			t.Fatal(err)
		}
	})
}

type closingExportClient struct {
	mock.ExportClient
	closed bool
}

func (c *closingExportClient) Close() error {
	c.closed = true
	return nil
}

func TestRetryExportClient_Unwrap(t *testing.T) {
	mockClient := &mock.ExportClient{}
	client := sqlitebackup.NewRetryExportClient(mockClient, sqlitebackup.DefaultRetryConfig())
	if client.Unwrap() != mockClient {
		t.Fatal("unexpected client")
	}
	if client.Type() != "mock" {
		t.Fatalf("unexpected type: %q", client.Type())
	}
}
