// Package modules discovers module archives, resolves their dependency
// scopes and drives every module through the staged lifecycle.
//
// A module archive is a zip file carrying a manifest (manifest.yaml,
// manifest.yml or manifest.properties) and optionally a Go plugin. The
// manifest's main attribute names the entry symbol; it is looked up in the
// module's scope, which falls through to the scope of the declared
// dependency and finally to the kernel base scope.
package modules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/artpar/modkernel/ports"
	"github.com/rs/zerolog"
)

// Constructor turns an entry symbol into a module instance.
type Constructor func(symbol any) (any, error)

// DefaultConstructor accepts func() any and func() (any, error) symbols.
// Any other symbol is used as the instance itself.
func DefaultConstructor(symbol any) (any, error) {
	switch fn := symbol.(type) {
	case func() any:
		return fn(), nil
	case func() (any, error):
		return fn()
	default:
		return symbol, nil
	}
}

// Config configures a Loader.
type Config struct {
	// Dir is the module directory. It is created when missing.
	Dir string

	// Extensions lists the archive file extensions, e.g. ".zip".
	Extensions []string

	// CacheDir receives extracted plugins. Default <Dir>/.cache.
	CacheDir string
}

// DefaultExtensions are used when Config.Extensions is empty.
var DefaultExtensions = []string{".zip", ".jar"}

// State summarises a module's progress.
type State string

const (
	StateDiscovered State = "discovered"
	StateLinked     State = "linked"
	StateLoaded     State = "loaded"
	StateExcluded   State = "excluded"
	StateFailed     State = "failed"
)

// module is the loader's record of one archive.
type module struct {
	manifest Manifest
	path     string
	checksum string
	archive  *archive

	scope *Scope

	instantiated bool
	instance     any
	excluded     bool

	err       error
	executed  map[Stage]bool
	stageErrs map[Stage]error
}

func (m *module) state() State {
	switch {
	case m.err != nil:
		return StateFailed
	case m.instantiated && m.excluded:
		return StateExcluded
	case m.instantiated:
		return StateLoaded
	case m.scope != nil:
		return StateLinked
	default:
		return StateDiscovered
	}
}

// Info is a snapshot of one module.
type Info struct {
	Manifest
	Path     string   `json:"path"`
	Checksum string   `json:"checksum"`
	State    State    `json:"state"`
	Excluded bool     `json:"excluded"`
	Stages   []string `json:"stages"`
	Error    string   `json:"error,omitempty"`
}

func (m *module) info() Info {
	info := Info{
		Manifest: m.manifest,
		Path:     m.path,
		Checksum: m.checksum,
		State:    m.state(),
		Excluded: m.excluded,
		Stages:   []string{},
	}
	for _, st := range Stages {
		if m.executed[st] {
			info.Stages = append(info.Stages, st.String())
		}
	}
	if m.err != nil {
		info.Error = m.err.Error()
	}
	return info
}

// Loader owns every discovered module. Its public methods are serialised.
type Loader struct {
	mu sync.Mutex

	dir        string
	cacheDir   string
	extensions []string

	base      *Scope
	store     ports.ConfigStore
	construct Constructor

	modules   []*module
	byName    map[string]*module
	paths     map[string]bool
	resolving map[string]bool
	fired     []Stage

	logger  zerolog.Logger
	metrics ports.Metrics
}

// NewLoader creates a loader over cfg.Dir, creating the directory when needed.
// base is the scope every dependency chain ends in; construct may be nil for
// DefaultConstructor; metrics may be nil.
func NewLoader(cfg Config, base *Scope, store ports.ConfigStore, construct Constructor, logger zerolog.Logger, metrics ports.Metrics) (*Loader, error) {
	if cfg.Dir == "" {
		return nil, errors.New("module directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create module directory: %w", err)
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.Dir, ".cache")
	}
	if base == nil {
		base = NewScope("kernel", nil)
	}
	if construct == nil {
		construct = DefaultConstructor
	}

	exts := make([]string, 0, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}

	return &Loader{
		dir:        cfg.Dir,
		cacheDir:   cfg.CacheDir,
		extensions: exts,
		base:       base,
		store:      store,
		construct:  construct,
		byName:     make(map[string]*module),
		paths:      make(map[string]bool),
		resolving:  make(map[string]bool),
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Dir returns the module directory.
func (l *Loader) Dir() string { return l.dir }

// BaseScope returns the kernel base scope.
func (l *Loader) BaseScope() *Scope { return l.base }

// Discover scans the module directory (non-recursively, in lexical order)
// and records every archive with a valid manifest. Archives already known
// are skipped. Broken archives and duplicate names are reported in the
// returned error without stopping the scan.
func (l *Loader) Discover() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read module directory: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !l.isArchive(entry.Name()) {
			continue
		}
		if _, err := l.discoverFile(filepath.Join(l.dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	if l.metrics != nil {
		l.metrics.ModulesDiscovered(len(l.modules))
	}
	return errors.Join(errs...)
}

func (l *Loader) isArchive(name string) bool {
	return slices.Contains(l.extensions, strings.ToLower(filepath.Ext(name)))
}

// discoverFile records the archive at path. It returns nil, nil for paths
// that are already known.
func (l *Loader) discoverFile(path string) (*module, error) {
	if l.paths[path] {
		return nil, nil
	}

	a, err := readArchive(path)
	if err != nil {
		l.logger.Warn().Err(err).Str("archive", path).Msg("archive skipped")
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	key := strings.ToLower(a.manifest.Name)
	if prev, ok := l.byName[key]; ok {
		l.paths[path] = true
		l.logger.Warn().
			Str("module", a.manifest.Name).
			Str("archive", path).
			Str("loaded_from", prev.path).
			Msg("duplicate module skipped")
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(path), ErrDuplicateModule, a.manifest.Name)
	}

	m := &module{
		manifest:  a.manifest,
		path:      path,
		checksum:  a.checksum,
		archive:   a,
		executed:  make(map[Stage]bool),
		stageErrs: make(map[Stage]error),
	}
	l.modules = append(l.modules, m)
	l.byName[key] = m
	l.paths[path] = true

	l.logger.Info().
		Str("module", m.manifest.Name).
		Str("version", m.manifest.Version).
		Str("author", m.manifest.Author).
		Str("depends", m.manifest.Depends).
		Msg("module discovered")
	return m, nil
}

func (l *Loader) lookup(name string) *module {
	return l.byName[strings.ToLower(name)]
}

func (l *Loader) dependency(m *module) *module {
	if m.manifest.Depends == "" {
		return nil
	}
	return l.lookup(m.manifest.Depends)
}

// Link resolves the scope of every discovered module in discovery order.
func (l *Loader) Link() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, m := range l.modules {
		if err := l.resolveScope(m); err != nil {
			errs = append(errs, fmt.Errorf("link %s: %w", m.manifest.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ResolveScope returns the scope of the named module, building it and its
// dependency chain on first use.
func (l *Loader) ResolveScope(name string) (*Scope, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := l.lookup(name)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	if err := l.resolveScope(m); err != nil {
		return nil, err
	}
	return m.scope, nil
}

func (l *Loader) resolveScope(m *module) error {
	if m.scope != nil {
		return nil
	}
	if m.err != nil {
		return m.err
	}

	key := strings.ToLower(m.manifest.Name)
	if l.resolving[key] {
		return fmt.Errorf("%w: %s", ErrDependencyCycle, m.manifest.Name)
	}
	l.resolving[key] = true
	defer delete(l.resolving, key)

	parent := l.base
	if name := m.manifest.Depends; name != "" {
		dep := l.lookup(name)
		if dep == nil {
			l.logger.Warn().
				Str("module", m.manifest.Name).
				Str("depends", name).
				Msg("dependency not found, using kernel scope")
		} else {
			if err := l.resolveScope(dep); err != nil {
				return l.fail(m, fmt.Errorf("resolve dependency %s: %w", dep.manifest.Name, err))
			}
			parent = dep.scope
		}
	}

	scope := NewScope(m.manifest.Name, parent)
	if m.archive != nil && m.archive.pluginEntry != "" {
		source, err := l.loadPlugin(m.archive)
		if err != nil {
			return l.fail(m, err)
		}
		scope.attach(source)
	}
	m.scope = scope

	l.logger.Debug().Str("module", m.manifest.Name).Str("scope", scope.String()).Msg("module linked")
	return nil
}

func (l *Loader) loadPlugin(a *archive) (SymbolSource, error) {
	path, err := extractPlugin(a, l.cacheDir)
	if err != nil {
		return nil, err
	}
	source, err := openPlugin(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", filepath.Base(path), err)
	}
	return source, nil
}

func (l *Loader) fail(m *module, err error) error {
	m.err = err
	l.logger.Error().Err(err).Str("module", m.manifest.Name).Msg("module failed")
	return err
}

// Instance returns the single instance of the named module, constructing it
// on first access. Excluded modules yield a nil instance and no error.
func (l *Loader) Instance(name string) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := l.lookup(name)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return l.instance(m)
}

// Instances constructs every module in discovery order and returns the
// instances of those that loaded. Failures are reported in the joined error.
func (l *Loader) Instances() ([]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		out  []any
		errs []error
	)
	for _, m := range l.modules {
		inst, err := l.instance(m)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", m.manifest.Name, err))
			continue
		}
		if inst != nil {
			out = append(out, inst)
		}
	}
	return out, errors.Join(errs...)
}

func (l *Loader) instance(m *module) (any, error) {
	if m.instantiated {
		return m.instance, m.err
	}
	if m.err != nil {
		return nil, m.err
	}

	m.excluded = l.isExcluded(m.manifest)
	if m.excluded {
		m.instantiated = true
		l.logger.Info().Str("module", m.manifest.Name).Msg("module excluded")
		return nil, nil
	}

	if err := l.resolveScope(m); err != nil {
		return nil, err
	}

	if dep := l.dependency(m); dep != nil {
		if _, err := l.instance(dep); err != nil {
			return nil, l.fail(m, fmt.Errorf("%w: %s: %v", ErrDependencyFailed, dep.manifest.Name, err))
		}
	}

	sym, ok := m.scope.Lookup(m.manifest.Main)
	if !ok {
		return nil, l.fail(m, fmt.Errorf("%w: %s", ErrEntryNotFound, m.manifest.Main))
	}

	inst, err := l.safeConstruct(sym)
	if err != nil {
		return nil, l.fail(m, fmt.Errorf("%w %s: %v", ErrConstruct, m.manifest.Main, err))
	}
	if inst == nil {
		return nil, l.fail(m, fmt.Errorf("%w %s: constructor returned nil", ErrConstruct, m.manifest.Main))
	}

	m.instance = inst
	m.instantiated = true
	l.logger.Info().Str("module", m.manifest.Name).Str("main", m.manifest.Main).Msg("module loaded")
	return inst, nil
}

func (l *Loader) safeConstruct(sym any) (inst any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return l.construct(sym)
}

func (l *Loader) isExcluded(m Manifest) bool {
	if l.store == nil {
		return false
	}
	raw, ok := l.store.Get(m.ExclusionKey())
	if !ok {
		return false
	}
	excluded, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && excluded
}

// SetExcluded persists the exclusion flag of a module. It takes effect for
// records that have not been instantiated yet, i.e. from the next session on
// for modules already loaded.
func (l *Loader) SetExcluded(m Manifest, excluded bool) error {
	if l.store == nil {
		return errors.New("no configuration store")
	}
	if err := l.store.Set(m.ExclusionKey(), strconv.FormatBool(excluded)); err != nil {
		return fmt.Errorf("persist exclusion of %s: %w", m.Name, err)
	}
	return nil
}

// Invoke runs stage on the named module, running it on the module's
// dependency first. Already executed stages and excluded modules are no-ops.
// It returns the module's load error or the error of the stage method.
func (l *Loader) Invoke(name string, stage Stage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := l.lookup(name)
	if m == nil {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	if err := l.invoke(m, stage); err != nil {
		return err
	}
	return m.stageErrs[stage]
}

func (l *Loader) invoke(m *module, stage Stage) error {
	if m.executed[stage] {
		return nil
	}

	inst, err := l.instance(m)
	if err != nil {
		return err
	}
	if m.excluded {
		return nil
	}

	if dep := l.dependency(m); dep != nil {
		// Dependency failures already stopped instance(m) above.
		_ = l.invoke(dep, stage)
	}

	ran, err := callStage(inst, stage)
	m.executed[stage] = true
	if !ran {
		return nil
	}

	if l.metrics != nil {
		l.metrics.StageInvoked(m.manifest.Name, stage.String(), err)
	}
	if err != nil {
		m.stageErrs[stage] = err
		l.logger.Error().Err(err).Str("module", m.manifest.Name).Stringer("stage", stage).Msg("stage failed")
		return nil
	}
	l.logger.Debug().Str("module", m.manifest.Name).Stringer("stage", stage).Msg("stage executed")
	return nil
}

// InvokeAll runs stage on every module in discovery order. Modules that
// failed to load are skipped; their errors and any stage errors are joined.
func (l *Loader) InvokeAll(stage Stage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !slices.Contains(l.fired, stage) {
		l.fired = append(l.fired, stage)
	}

	var errs []error
	for _, m := range l.modules {
		if err := l.invoke(m, stage); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", stage, m.manifest.Name, err))
		}
	}
	for _, m := range l.modules {
		if err := m.stageErrs[stage]; err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", stage, m.manifest.Name, err))
		}
	}
	return errors.Join(errs...)
}

// InvokePrimary runs the primary stage on every module.
func (l *Loader) InvokePrimary() error { return l.InvokeAll(StagePrimary) }

// InvokeSecondary runs the secondary stage on every module.
func (l *Loader) InvokeSecondary() error { return l.InvokeAll(StageSecondary) }

// InvokeTertiary runs the tertiary stage on every module.
func (l *Loader) InvokeTertiary() error { return l.InvokeAll(StageTertiary) }

// CatchUp runs, on the named module, every stage that InvokeAll has already
// fired for the other modules.
func (l *Loader) CatchUp(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := l.lookup(name)
	if m == nil {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}

	var errs []error
	for _, stage := range l.fired {
		if err := l.invoke(m, stage); err != nil {
			return err
		}
		if err := m.stageErrs[stage]; err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", stage, m.manifest.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Modules returns a snapshot of every module in discovery order.
func (l *Loader) Modules() []Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := make([]Info, 0, len(l.modules))
	for _, m := range l.modules {
		list = append(list, m.info())
	}
	return list
}

// Module returns a snapshot of the named module.
func (l *Loader) Module(name string) (Info, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := l.lookup(name)
	if m == nil {
		return Info{}, false
	}
	return m.info(), true
}
