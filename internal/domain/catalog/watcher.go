package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harbinger-io/harbinger/pkg/logger"
)

// debounceWindow batches editor write bursts into one reload.
const debounceWindow = 500 * time.Millisecond

// Watch reloads the catalog whenever its document changes on disk. A
// reload that fails parse or validation keeps the previous snapshot
// active and logs the rejection. Watch blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save
	// and the inode-level watch would silently die.
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(c.path)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := c.Load(ctx); err != nil {
				c.log.Warn(ctx, "catalog reload rejected, keeping previous snapshot", logger.Error(err))
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn(ctx, "catalog watcher error", logger.Error(werr))
		}
	}
}
