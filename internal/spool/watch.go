package spool

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reports when a blob becomes retrievable in the directory, whether
// written by this process, another process, or returned by a lease reclaim.
// Notifications are coalesced: a receive means "at least one blob appeared
// since the last receive". The channel is closed when ctx is done or the
// watcher fails.
func (s *Storage) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) {
					continue
				}
				if f, ok := parseFileName(filepath.Base(ev.Name)); !ok || f.State != StatePersisted {
					continue
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log().Warn("spool watcher error", "err", err)
			}
		}
	}()
	return ch, nil
}
