package settings

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch 监听快照文件，其它进程（例如 CLI -save-settings）写入新版本后自动重新加载。
// 阻塞直到 ctx 结束。
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(s.snapshot.Path())
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			reloaded, err := s.Reload()
			if err != nil {
				s.logger.WithError(err).WithField("site", s.site).Warn("settings_reload_failed")
				continue
			}
			if reloaded {
				s.logger.WithFields(logrus.Fields{
					"action":  "settings_reload",
					"site":    s.site,
					"version": s.Get().Version,
				}).Info("settings_reloaded")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).WithField("site", s.site).Warn("settings_watch_error")
		}
	}
}
