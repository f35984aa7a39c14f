package internal

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LevelTrace is a log level below DEBUG for per-page and per-file chatter.
const LevelTrace = slog.LevelDebug - 4

// ReplaceAttr renames custom log levels so handlers print them by name.
func ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// Trace logs msg at LevelTrace.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// ReadCounter wraps an io.Reader and counts the total number of bytes read.
type ReadCounter struct {
	r io.Reader
	n int64
}

// NewReadCounter returns a new instance of ReadCounter that wraps r.
func NewReadCounter(r io.Reader) *ReadCounter {
	return &ReadCounter{r: r}
}

// Read reads from the underlying reader into p and adds the bytes read to the counter.
func (r *ReadCounter) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.n += int64(n)
	return n, err
}

// N returns the total number of bytes read.
func (r *ReadCounter) N() int64 { return r.n }

// CreateExclusive creates filename only if it does not already exist.
func CreateExclusive(filename string, mode os.FileMode) (*os.File, error) {
	return os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
}

// TruncateDuration truncates d to the nearest major unit (s, ms, µs, ns).
func TruncateDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -TruncateDuration(-d)
	}

	if d > 10*time.Second {
		return d.Truncate(time.Second)
	} else if d > time.Second {
		return d.Truncate(time.Second / 10)
	} else if d > time.Millisecond {
		return d.Truncate(time.Millisecond)
	} else if d > time.Microsecond {
		return d.Truncate(time.Microsecond)
	}
	return d
}

// OnceCloser returns a closer that will only ignore duplicate closes.
func OnceCloser(c io.Closer) io.Closer {
	return &onceCloser{Closer: c}
}

type onceCloser struct {
	sync.Once
	io.Closer
}

func (c *onceCloser) Close() (err error) {
	c.Once.Do(func() { err = c.Closer.Close() })
	return err
}
