package mock

import (
	"context"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
)

var _ sqlitebackup.Copier = (*Copier)(nil)

type Copier struct {
	CopyFileFunc func(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error)
}

func (c *Copier) CopyFile(ctx context.Context, src, dst string) (sqlitebackup.CopyOutcome, error) {
	return c.CopyFileFunc(ctx, src, dst)
}
