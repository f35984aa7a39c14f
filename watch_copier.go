package sqlitebackup

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/benbjohnson/sqlite-backup/internal"
)

// DefaultWatchSettle is how long WatchCopier waits after a copy for events
// raised during the copy to be delivered.
const DefaultWatchSettle = 10 * time.Millisecond

var _ Copier = (*WatchCopier)(nil)

// WatchCopier wraps another Copier and subscribes to filesystem events for
// the source file while the copy runs. Any write, create, remove or rename of
// the source marks the copy unclean, even if the fingerprint comparison of
// the wrapped copier did not notice it.
type WatchCopier struct {
	// Copier performs the actual copy. Defaults to a StableCopier.
	Copier Copier

	// Settle is the delay after the copy before events are collected.
	Settle time.Duration

	Logger *slog.Logger
}

// NewWatchCopier returns a new instance of WatchCopier wrapping c.
func NewWatchCopier(c Copier) *WatchCopier {
	if c == nil {
		c = NewStableCopier()
	}
	return &WatchCopier{
		Copier: c,
		Settle: DefaultWatchSettle,
		Logger: slog.Default(),
	}
}

// CopyFile copies src to dst while watching src for changes.
func (c *WatchCopier) CopyFile(ctx context.Context, src, dst string) (CopyOutcome, error) {
	src = filepath.Clean(src)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return CopyOutcome{}, err
	}
	defer watcher.Close()

	// Watch the parent directory so replace-by-rename of src is also seen.
	if err := watcher.Add(filepath.Dir(src)); err != nil {
		return CopyOutcome{}, err
	}

	var changed atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.monitor(watcher, src, &changed)
	}()

	outcome, err := c.Copier.CopyFile(ctx, src, dst)

	if c.Settle > 0 {
		time.Sleep(c.Settle)
	}
	if e := watcher.Close(); e != nil && err == nil {
		err = e
	}
	<-done

	if err != nil {
		return outcome, err
	}
	if outcome.Clean && changed.Load() {
		internal.CopyUncleanTotalCounter.Inc()
		outcome.Clean = false
	}
	return outcome, nil
}

func (c *WatchCopier) monitor(watcher *fsnotify.Watcher, src string, changed *atomic.Bool) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != src {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				internal.Trace(c.logger(), "source changed during copy", "path", src, "op", event.Op.String())
				changed.Store(true)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			// Dropped events may have included a write to src.
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				changed.Store(true)
			}
			c.logger().Debug("watcher error", "path", src, "error", err)
		}
	}
}

func (c *WatchCopier) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
