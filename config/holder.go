package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 100 * time.Millisecond

// Holder keeps the current kernel configuration and swaps it on reload.
// Only logging.level takes effect live; see ReloadableFields.
type Holder struct {
	path   string
	logger zerolog.Logger

	mu        sync.RWMutex
	current   *Config
	listeners []func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewHolder loads the initial configuration from path, or from defaults and
// the environment when the file does not exist.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := LoadWithFallback(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	return &Holder{
		path:    abs,
		logger:  logger.With().Str("component", "config").Logger(),
		current: cfg,
		done:    make(chan struct{}),
	}, nil
}

// Get returns the current configuration. Callers must not modify it.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Path returns the absolute configuration file path.
func (h *Holder) Path() string {
	return h.path
}

// Reload re-reads the configuration file. An invalid file leaves the
// current configuration in place.
func (h *Holder) Reload() error {
	next, err := LoadWithFallback(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload rejected")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	listeners := slices.Clone(h.listeners)
	h.mu.Unlock()

	h.reportChanges(prev, next)
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

// OnChange registers fn to run after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// WatchFile reloads the configuration whenever the file is written or created.
func (h *Holder) WatchFile() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	// The directory, not the file: editors often save by rename.
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(h.path), err)
	}
	h.watcher = w

	go h.watch(w)

	h.logger.Debug().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads the configuration on SIGHUP.
func (h *Holder) WatchSignals() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				h.logger.Info().Msg("SIGHUP, reloading config")
				h.Reload()
			case <-h.done:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.once.Do(func() {
		close(h.done)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watch(w *fsnotify.Watcher) {
	name := filepath.Base(h.path)

	var pending <-chan time.Time
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				pending = time.After(reloadDebounce)
			}
		case <-pending:
			pending = nil
			h.Reload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Warn().Err(err).Msg("config watcher error")
		case <-h.done:
			return
		}
	}
}

func (h *Holder) reportChanges(prev, next *Config) {
	ev := h.logger.Info()
	if prev.Logging.Level != next.Logging.Level {
		ev = ev.Str("log_level", prev.Logging.Level+" -> "+next.Logging.Level)
	}
	ev.Msg("configuration reloaded")

	if pending := RestartRequired(prev, next); len(pending) > 0 {
		h.logger.Warn().Strs("fields", pending).Msg("changed settings only apply after restart")
	}
}

// RestartRequired returns the NonReloadableFields that differ between prev
// and next.
func RestartRequired(prev, next *Config) []string {
	var changed []string
	for _, field := range NonReloadableFields() {
		if fieldValue(prev, field) != fieldValue(next, field) {
			changed = append(changed, field)
		}
	}
	return changed
}

func fieldValue(c *Config, field string) string {
	switch field {
	case "kernel.prompt":
		return c.Kernel.Prompt
	case "modules.dir":
		return c.Modules.Dir
	case "modules.extensions":
		return strings.Join(c.Modules.Extensions, ",")
	case "tasks.workers":
		return strconv.Itoa(c.Tasks.Workers)
	case "tasks.grace":
		return c.Tasks.Grace.String()
	case "store.driver":
		return c.Store.Driver
	case "store.dsn":
		return c.Store.DSN
	case "admin.addr":
		return c.Admin.Addr
	case "logging.format":
		return c.Logging.Format
	case "logging.level":
		return c.Logging.Level
	}
	return ""
}

// ReloadableFields lists the settings that take effect without restart.
func ReloadableFields() []string {
	return []string{"logging.level"}
}

// NonReloadableFields lists the settings that require a restart.
func NonReloadableFields() []string {
	return []string{
		"kernel.prompt",
		"modules.dir",
		"modules.extensions",
		"tasks.workers",
		"tasks.grace",
		"store.driver",
		"store.dsn",
		"admin.addr",
		"logging.format",
	}
}
