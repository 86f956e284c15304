package policy

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/kirillm/signal-trader/pkg/utils"
)

// Watch перечитывает файл политики при изменениях до отмены ctx.
// Ошибочный файл не применяется, старый снимок остается активным.
func (s *Store) Watch(ctx context.Context, logger *utils.Logger) error {
	if s.path == "" {
		return fmt.Errorf("policy store has no backing file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer watcher.Close()

	// редакторы заменяют файл целиком, поэтому следим за каталогом
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

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
			if err := s.Reload(); err != nil {
				logger.Warn("policy reload rejected, keeping previous snapshot", "path", s.path, "error", err)
				continue
			}
			logger.Info("🔄 policy reloaded", "path", s.path, "profile", s.profile)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("policy watcher error", "error", err)
		}
	}
}
