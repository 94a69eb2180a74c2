package gesture

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the map whenever the file is edited outside the server. The
// parent directory is watched so editors that replace the file by rename are
// picked up. onReload, if set, receives the new mapping. Watch blocks until
// ctx is cancelled.
func (s *MapStore) Watch(ctx context.Context, debounce time.Duration, onReload func(map[string]string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(s.path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isMapEvent(event, target) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("gesture map watcher error", zap.Error(err))
		case <-timer.C:
			changed, err := s.reload()
			if err != nil {
				s.logger.Warn("gesture map reload failed", zap.String("path", s.path), zap.Error(err))
				continue
			}
			if !changed {
				continue
			}
			s.logger.Info("gesture map reloaded", zap.String("path", s.path))
			if onReload != nil {
				onReload(s.All())
			}
		}
	}
}

func isMapEvent(event fsnotify.Event, target string) bool {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != target {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
