package modules

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the module directory until ctx is done. A newly written
// archive with a new module name is discovered and linked, then handed to
// onAdded. Changes to archives that are already loaded are logged and
// ignored: modules are never reloaded.
func (l *Loader) Watch(ctx context.Context, onAdded func(name string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch module directory: %w", err)
	}

	l.logger.Info().Str("dir", l.dir).Msg("watching module directory")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !l.isArchive(event.Name) {
				continue
			}
			if name, ok := l.arrived(event.Name); ok && onAdded != nil {
				onAdded(name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error().Err(err).Msg("module watcher error")

		case <-ctx.Done():
			return nil
		}
	}
}

// arrived discovers and links the archive at path. It reports the module
// name when a new module was added.
func (l *Loader) arrived(path string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path = filepath.Join(l.dir, filepath.Base(path))
	if l.paths[path] {
		l.logger.Info().Str("archive", path).Msg("module archive changed, reload not supported")
		return "", false
	}

	m, err := l.discoverFile(path)
	if err != nil || m == nil {
		// A partially written archive is retried on its next write event.
		return "", false
	}
	if l.metrics != nil {
		l.metrics.ModulesDiscovered(len(l.modules))
	}

	if err := l.resolveScope(m); err != nil {
		l.logger.Error().Err(err).Str("module", m.manifest.Name).Msg("link new module")
	}
	return m.manifest.Name, true
}
