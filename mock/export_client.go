package mock

import (
	"context"
	"io"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

var _ sqlitebackup.ExportClient = (*ExportClient)(nil)

type ExportClient struct {
	InitFunc       func(ctx context.Context) error
	ExistsFunc     func(ctx context.Context, name string) (bool, error)
	WriteFileFunc  func(ctx context.Context, name string, r io.Reader) error
	DeleteFileFunc func(ctx context.Context, name string) error
}

func (c *ExportClient) Type() string { return "mock" }

func (c *ExportClient) Init(ctx context.Context) error {
	if c.InitFunc == nil {
		return nil
	}
	return c.InitFunc(ctx)
}

func (c *ExportClient) Exists(ctx context.Context, name string) (bool, error) {
	return c.ExistsFunc(ctx, name)
}

func (c *ExportClient) WriteFile(ctx context.Context, name string, r io.Reader) error {
	return c.WriteFileFunc(ctx, name, r)
}

func (c *ExportClient) DeleteFile(ctx context.Context, name string) error {
	return c.DeleteFileFunc(ctx, name)
}
