package skills

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the library whenever an .md file in the skills
// directory changes, until ctx is done. It returns immediately when no
// directory is configured.
func (l *Library) Watch(ctx context.Context) error {
	if l.dir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create skills watcher: %w", err)
	}
	if err := w.Add(l.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch skills dir %s: %w", l.dir, err)
	}
	l.logger.Info("watching skills directory", "dir", l.dir)

	go func() {
		defer w.Close()
		var timer *time.Timer
		reload := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(filepath.Base(ev.Name), ".md") || ev.Op == fsnotify.Chmod {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				if err := l.Reload(); err != nil {
					l.logger.Error("skills reload failed", "error", err)
					continue
				}
				l.logger.Info("skills reloaded", "count", len(l.List()))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("skills watcher error", "error", err)
			}
		}
	}()
	return nil
}
