// Package bootstrap wires configuration, logging, persistence, metrics and
// the admin server around a kernel.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/modkernel/adapters/clock"
	apihttp "github.com/artpar/modkernel/adapters/http"
	"github.com/artpar/modkernel/adapters/http/admin"
	"github.com/artpar/modkernel/adapters/idgen"
	"github.com/artpar/modkernel/adapters/metrics"
	"github.com/artpar/modkernel/adapters/propfile"
	"github.com/artpar/modkernel/adapters/sqlite"
	"github.com/artpar/modkernel/config"
	"github.com/artpar/modkernel/core/kernel"
	"github.com/artpar/modkernel/core/modules"
	"github.com/artpar/modkernel/core/services"
	"github.com/artpar/modkernel/ports"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// shutdownSlack is added to the task grace period to bound Shutdown in Run.
const shutdownSlack = 5 * time.Second

// App is a configured kernel plus the infrastructure around it.
type App struct {
	Config    *config.Holder
	Logger    zerolog.Logger
	SessionID string
	Store     ports.ConfigStore
	Kernel    *kernel.Kernel

	Registry   *prometheus.Registry
	Metrics    *metrics.Collector
	HTTPServer *http.Server

	application kernel.Application
	clock       ports.Clock
	booted      atomic.Bool
	bootOnce    sync.Once
	bootErr     error
	stopWatch   context.CancelFunc
	stopOnce    sync.Once
	stopErr     error
}

// Config customizes NewWithConfig. Zero values select the process defaults.
type Config struct {
	// ConfigPath is the YAML file. Empty selects config.DefaultPath; a
	// missing file falls back to defaults and MODKERNEL_* variables.
	ConfigPath string

	// Console streams. Default stdin and stdout.
	Input  io.Reader
	Output io.Writer

	// LogOutput receives log lines. Default stderr.
	LogOutput io.Writer

	// Application is handed to kernel.Boot.
	Application kernel.Application

	Version string
}

// New creates an app from the default configuration file.
func New() (*App, error) {
	return NewWithConfig(Config{})
}

// NewWithConfig creates an app. Nothing is booted until Run or Boot.
func NewWithConfig(cfg Config) (*App, error) {
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = config.DefaultPath
	}
	if cfg.Input == nil {
		cfg.Input = os.Stdin
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.LogOutput == nil {
		cfg.LogOutput = os.Stderr
	}

	initial, err := config.LoadWithFallback(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	sessionID := uuid.NewString()
	logger := NewLogger(initial.Logging, cfg.LogOutput).With().Str("session", sessionID).Logger()

	holder, err := config.NewHolder(cfg.ConfigPath, logger)
	if err != nil {
		return nil, err
	}
	c := holder.Get()

	a := &App{
		Config:      holder,
		Logger:      logger,
		SessionID:   sessionID,
		application: cfg.Application,
		clock:       clock.Real{},
	}

	a.Store, err = openStore(c.Store)
	if err != nil {
		holder.Stop()
		return nil, err
	}

	if c.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(a.Registry)
	}

	var km ports.Metrics
	if a.Metrics != nil {
		km = a.Metrics
	}

	a.Kernel, err = kernel.New(kernel.Options{
		ModulesDir: c.Modules.Dir,
		Extensions: c.Modules.Extensions,
		CacheDir:   c.Modules.CacheDir,
		Input:      cfg.Input,
		Output:     cfg.Output,
		Store:      a.Store,
		Workers:    c.Tasks.Workers,
		Grace:      c.Tasks.Grace,
		IDs:        idgen.UUID{},
		Clock:      a.clock,
		Logger:     logger,
		Metrics:    km,
	})
	if err != nil {
		a.Store.Close()
		holder.Stop()
		return nil, fmt.Errorf("create kernel: %w", err)
	}

	services.Register(a.Kernel.Services, "config", c)
	services.Register(a.Kernel.Services, "session", sessionID)

	if c.Admin.Enabled {
		a.HTTPServer = a.newAdminServer(c, cfg.Version)
	}

	holder.OnChange(a.applyConfig)

	logger.Info().
		Str("config", holder.Path()).
		Str("modules", c.Modules.Dir).
		Str("store", c.Store.Driver).
		Bool("admin", c.Admin.Enabled).
		Msg("app initialized")
	return a, nil
}

func openStore(c config.StoreConfig) (ports.ConfigStore, error) {
	switch c.Driver {
	case config.StoreSQLite:
		if c.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(c.DSN), 0755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		s, err := sqlite.OpenConfigStore(c.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		s, err := propfile.Open(c.DSN)
		if err != nil {
			return nil, fmt.Errorf("open properties store: %w", err)
		}
		return s, nil
	}
}

func (a *App) newAdminServer(c *config.Config, version string) *http.Server {
	rc := apihttp.RouterConfig{
		MetricsPath:   c.Metrics.Path,
		EnableOpenAPI: true,
		Version:       version,
		AdminHandler: admin.NewHandler(admin.Deps{
			Kernel: a.Kernel,
			Logger: a.Logger.With().Str("component", "admin").Logger(),
		}).Router(),
	}
	if a.Metrics != nil {
		rc.Metrics = a.Metrics
		rc.MetricsHandler = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
	}

	router := apihttp.NewRouter(apihttp.NewHealthHandler(a.booted.Load), a.Logger, rc)
	return &http.Server{
		Addr:         c.Admin.Addr,
		Handler:      router,
		ReadTimeout:  c.Admin.ReadTimeout,
		WriteTimeout: c.Admin.WriteTimeout,
	}
}

// applyConfig applies the reloadable settings of a new configuration.
func (a *App) applyConfig(c *config.Config) {
	if level, err := zerolog.ParseLevel(c.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if a.Metrics != nil {
		a.Metrics.ConfigReloaded(a.clock.Now())
	}
}

// Boot runs the kernel start-up sequence once.
func (a *App) Boot() error {
	a.bootOnce.Do(func() {
		a.bootErr = a.Kernel.Boot(a.application)
		if a.bootErr == nil {
			a.booted.Store(true)
		}
	})
	return a.bootErr
}

// Booted reports whether Boot completed.
func (a *App) Booted() bool {
	return a.booted.Load()
}

// Survey discovers and links the module directory without instantiating
// anything, for offline inspection.
func (a *App) Survey() ([]modules.Info, error) {
	err := errors.Join(a.Kernel.Modules.Discover(), a.Kernel.Modules.Link())
	return a.Kernel.Modules.Modules(), err
}

// Run boots the kernel, starts the admin server, module and config
// watchers and the console, and blocks until the console closes, ctx is
// done or the admin server fails. It always shuts the app down.
func (a *App) Run(ctx context.Context) error {
	c := a.Config.Get()

	if err := a.Boot(); err != nil {
		a.shutdownAfter(c)
		return err
	}

	serveErr := make(chan error, 1)
	if a.HTTPServer != nil {
		ln, err := net.Listen("tcp", a.HTTPServer.Addr)
		if err != nil {
			a.shutdownAfter(c)
			return fmt.Errorf("listen on %s: %w", a.HTTPServer.Addr, err)
		}
		a.Logger.Info().Str("addr", ln.Addr().String()).Msg("starting admin server")
		go func() {
			if err := a.HTTPServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	a.stopWatch = stopWatch
	if c.Modules.Watch {
		go func() {
			if err := a.Kernel.Modules.Watch(watchCtx, a.adopt); err != nil {
				a.Logger.Error().Err(err).Msg("module watcher stopped")
			}
		}()
	}

	if err := a.Config.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watching disabled")
	}
	a.Config.WatchSignals()

	a.Kernel.Commands.StartListening(c.Kernel.Prompt)

	var runErr error
	select {
	case <-a.Kernel.Commands.Done():
		a.Logger.Info().Msg("console closed")
	case <-ctx.Done():
		a.Logger.Info().Msg("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("admin server: %w", err)
	}

	if err := a.shutdownAfter(c); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) shutdownAfter(c *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Tasks.Grace+shutdownSlack)
	defer cancel()
	return a.Shutdown(ctx)
}

func (a *App) adopt(name string) {
	if err := a.Kernel.Adopt(name); err != nil {
		a.Logger.Error().Err(err).Str("module", name).Msg("failed to adopt module")
		return
	}
	a.Logger.Info().Str("module", name).Msg("module adopted")
}

// Shutdown stops the watchers, the console, the task scheduler and the
// admin server, then closes the store. Only the first call does anything.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		if a.stopWatch != nil {
			a.stopWatch()
		}
		a.Config.Stop()

		var g errgroup.Group
		g.Go(func() error {
			return a.Kernel.Shutdown(ctx)
		})
		if a.HTTPServer != nil {
			g.Go(func() error {
				if err := a.HTTPServer.Shutdown(ctx); err != nil {
					return fmt.Errorf("admin server shutdown: %w", err)
				}
				return nil
			})
		}
		err := g.Wait()

		if cerr := a.Store.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close store: %w", cerr))
		}
		if err != nil {
			a.Logger.Error().Err(err).Msg("shutdown finished with errors")
		} else {
			a.Logger.Info().Msg("shutdown complete")
		}
		a.stopErr = err
	})
	return a.stopErr
}
