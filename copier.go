package sqlitebackup

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/sqlite-backup/internal"
)

// CopyOutcome is the result of copying a single file.
type CopyOutcome struct {
	// Path is the destination file.
	Path string

	// Clean is true if the source was not observed to change while it was
	// copied. It is a best-effort signal, not proof of an atomic read.
	Clean bool

	// Size is the number of bytes written to Path.
	Size int64
}

// Copier copies a single file from src to dst.
//
// Implementations make exactly one attempt. I/O failures are returned as
// errors; interference from a concurrent writer is reported through
// CopyOutcome.Clean instead.
type Copier interface {
	CopyFile(ctx context.Context, src, dst string) (CopyOutcome, error)
}

// CopierFunc adapts a function to the Copier interface.
type CopierFunc func(ctx context.Context, src, dst string) (CopyOutcome, error)

// CopyFile calls fn(ctx, src, dst).
func (fn CopierFunc) CopyFile(ctx context.Context, src, dst string) (CopyOutcome, error) {
	return fn(ctx, src, dst)
}

var _ Copier = (*StableCopier)(nil)

// StableCopier copies a file and compares the source's fingerprint from
// before and after the copy. On unix the fingerprint covers size, mtime,
// ctime, inode and device, so a replace-by-rename is also detected. A
// rewrite that leaves all of those unchanged goes unnoticed.
type StableCopier struct{}

// NewStableCopier returns a new instance of StableCopier.
func NewStableCopier() *StableCopier {
	return &StableCopier{}
}

// CopyFile copies src to dst, truncating dst if it exists.
func (c *StableCopier) CopyFile(ctx context.Context, src, dst string) (CopyOutcome, error) {
	if err := ctx.Err(); err != nil {
		return CopyOutcome{}, err
	}

	before, err := internal.Stat(src)
	if err != nil {
		return CopyOutcome{}, err
	}

	n, err := copyFileContents(src, dst, os.FileMode(before.Mode).Perm()|0o600)
	if err != nil {
		return CopyOutcome{}, err
	}
	internal.CopyBytesCounter.Add(float64(n))

	after, err := internal.Stat(src)
	if err != nil {
		return CopyOutcome{}, err
	}

	// Staged files keep the source mtime.
	if err := os.Chtimes(dst, before.ModTime, before.ModTime); err != nil {
		return CopyOutcome{}, err
	}

	clean := before.Equal(after)
	if !clean {
		internal.CopyUncleanTotalCounter.Inc()
	}
	return CopyOutcome{Path: dst, Clean: clean, Size: n}, nil
}

func copyFileContents(src, dst string, mode os.FileMode) (n int64, err error) {
	r, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	w, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	wc := internal.OnceCloser(w)
	defer func() { _ = wc.Close() }()

	if n, err = io.Copy(w, r); err != nil {
		return n, fmt.Errorf("copy %s: %w", src, err)
	}
	return n, wc.Close()
}
