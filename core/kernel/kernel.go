// Package kernel ties the service registry, command dispatcher, event bus,
// task scheduler and module loader into one context that is passed to the
// application and to every module constructor.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/artpar/modkernel/core/commands"
	"github.com/artpar/modkernel/core/events"
	"github.com/artpar/modkernel/core/modules"
	"github.com/artpar/modkernel/core/services"
	"github.com/artpar/modkernel/core/tasks"
	"github.com/artpar/modkernel/ports"
	"github.com/rs/zerolog"
)

// DefaultPrefix is the console prompt prefix.
const DefaultPrefix = "Modularitea"

// Application is the top-level program hosted by the kernel.
type Application interface {
	// Entrypoint runs once every module has gone through its lifecycle.
	Entrypoint(k *Kernel) error
}

// Constructor builds a module instance with access to the kernel.
type Constructor func(k *Kernel) (any, error)

// Options configures New.
type Options struct {
	ModulesDir string
	Extensions []string
	CacheDir   string

	// Input and Output back the console. Required.
	Input  io.Reader
	Output io.Writer

	// Store persists module configuration such as exclusion flags.
	Store ports.ConfigStore

	Workers int
	Grace   time.Duration
	IDs     ports.IDGenerator
	Clock   ports.Clock

	Logger  zerolog.Logger
	Metrics ports.Metrics
}

// Kernel is the application context.
type Kernel struct {
	Services *services.Registry
	Commands *commands.Dispatcher
	Events   *events.Bus
	Tasks    *tasks.Scheduler
	Modules  *modules.Loader

	Store   ports.ConfigStore
	Logger  zerolog.Logger
	Metrics ports.Metrics

	base *modules.Scope
}

// New creates a kernel and its managers. Nothing is discovered or started.
func New(opts Options) (*Kernel, error) {
	if opts.Input == nil || opts.Output == nil {
		return nil, errors.New("console input and output are required")
	}

	k := &Kernel{
		Store:   opts.Store,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
		base:    modules.NewScope("kernel", nil),
	}

	k.Services = services.NewRegistry(opts.Logger.With().Str("component", "services").Logger())
	k.Commands = commands.NewDispatcher(opts.Input, opts.Output, opts.Logger.With().Str("component", "commands").Logger(), opts.Metrics)
	k.Events = events.NewBus(opts.Logger.With().Str("component", "events").Logger(), opts.Metrics)
	k.Tasks = tasks.NewScheduler(opts.Logger.With().Str("component", "tasks").Logger(), opts.Metrics, tasks.Config{
		Workers: opts.Workers,
		Grace:   opts.Grace,
		IDs:     opts.IDs,
		Clock:   opts.Clock,
	})

	loader, err := modules.NewLoader(modules.Config{
		Dir:        opts.ModulesDir,
		Extensions: opts.Extensions,
		CacheDir:   opts.CacheDir,
	}, k.base, opts.Store, k.construct, opts.Logger.With().Str("component", "modules").Logger(), opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("create module loader: %w", err)
	}
	k.Modules = loader

	services.Register(k.Services, "kernel", k)
	services.Register(k.Services, "", k.Services)
	services.Register(k.Services, "", k.Commands)
	services.Register(k.Services, "", k.Events)
	services.Register(k.Services, "", k.Tasks)
	services.Register(k.Services, "", k.Modules)

	return k, nil
}

// Export makes ctor available to module manifests under id.
func (k *Kernel) Export(id string, ctor Constructor) {
	k.base.Define(id, ctor)
}

// Define binds an arbitrary symbol in the kernel base scope.
func (k *Kernel) Define(id string, sym any) {
	k.base.Define(id, sym)
}

func (k *Kernel) construct(sym any) (any, error) {
	switch fn := sym.(type) {
	case Constructor:
		return fn(k)
	case func(*Kernel) (any, error):
		return fn(k)
	case func(*Kernel) any:
		return fn(k), nil
	case *func(*Kernel) (any, error):
		return (*fn)(k)
	default:
		return modules.DefaultConstructor(sym)
	}
}

// Intertwine connects obj to every manager: services are injected, beans
// published, then commands, tasks and event listeners registered.
func (k *Kernel) Intertwine(obj any) {
	if obj == nil {
		return
	}

	injected := k.Services.Inject(obj)
	beans := k.Services.RegisterBeans(obj)
	cmds := k.Commands.Register(obj)
	scheduled := k.Tasks.Register(obj)
	listening := k.Events.RegisterInstance(obj)

	k.Logger.Debug().
		Str("object", fmt.Sprintf("%T", obj)).
		Int("injected", injected).
		Int("beans", beans).
		Int("commands", cmds).
		Int("tasks", scheduled).
		Bool("listener", listening).
		Msg("object intertwined")
}

// Boot runs the start-up sequence: intertwine the kernel's own commands and
// the application, discover and link modules, intertwine every module
// instance, fire the three lifecycle stages and hand over to the
// application's entrypoint. Module failures are logged and do not stop the
// boot; only an entrypoint error is returned.
func (k *Kernel) Boot(app Application) error {
	k.Logger.Info().Msg("booting kernel")

	k.Intertwine(kernelCommands{k})
	k.Intertwine(app)

	if err := k.Modules.Discover(); err != nil {
		k.Logger.Warn().Err(err).Msg("module discovery reported errors")
	}
	if err := k.Modules.Link(); err != nil {
		k.Logger.Warn().Err(err).Msg("module linking reported errors")
	}

	instances, err := k.Modules.Instances()
	if err != nil {
		k.Logger.Warn().Err(err).Msg("some modules failed to load")
	}
	for _, inst := range instances {
		k.Intertwine(inst)
	}

	for _, stage := range modules.Stages {
		if err := k.Modules.InvokeAll(stage); err != nil {
			k.Logger.Warn().Err(err).Stringer("stage", stage).Msg("lifecycle stage reported errors")
		}
	}

	if app != nil {
		if err := app.Entrypoint(k); err != nil {
			return fmt.Errorf("application entrypoint: %w", err)
		}
	}

	k.Logger.Info().Int("modules", len(k.Modules.Modules())).Msg("kernel booted")
	return nil
}

// Adopt brings a module discovered after boot up to date: it is
// constructed, intertwined and run through the stages already fired.
func (k *Kernel) Adopt(name string) error {
	inst, err := k.Modules.Instance(name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	k.Intertwine(inst)
	return k.Modules.CatchUp(name)
}

// Shutdown stops the console loop and the task scheduler.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.Commands.Stop()
	if err := k.Tasks.StopAll(ctx); err != nil {
		return fmt.Errorf("stop tasks: %w", err)
	}
	return nil
}
