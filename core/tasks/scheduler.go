// Package tasks runs periodic jobs at a fixed rate on a bounded worker pool.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/modkernel/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultGrace is how long StopAll waits for running tasks before cancelling them.
const DefaultGrace = 5 * time.Second

var (
	// ErrShutdownTimeout is returned by StopAll when running tasks had to be cancelled.
	ErrShutdownTimeout = errors.New("tasks did not finish within grace period")

	// ErrInvalidTask is logged for tasks without a name, body or positive interval.
	ErrInvalidTask = errors.New("task needs a name, a body and a positive interval")

	// ErrTaskPanic wraps a panic raised by a task body.
	ErrTaskPanic = errors.New("task panicked")
)

// Task declares one periodic job.
type Task struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration

	// Run is called on every firing. ctx is cancelled when the scheduler
	// gives up waiting for running tasks during StopAll.
	Run func(ctx context.Context) error
}

// Provider exposes the tasks of one object.
type Provider interface {
	Tasks() []Task
}

// Info is a snapshot of one schedule.
type Info struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Owner    string        `json:"owner"`
	Interval time.Duration `json:"interval"`
	Runs     uint64        `json:"runs"`
	Failures uint64        `json:"failures"`
	Skipped  uint64        `json:"skipped"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	Running  bool          `json:"running"`
}

// Config tunes a Scheduler. Zero values select the defaults.
type Config struct {
	// Workers bounds concurrent task runs. Default runtime.NumCPU().
	Workers int

	// Grace is the StopAll wait before running tasks are cancelled. Default DefaultGrace.
	Grace time.Duration

	// IDs generates schedule ids. Default random UUIDs.
	IDs ports.IDGenerator

	// Clock stamps Info.LastRun. Default wall clock.
	Clock ports.Clock
}

type uuidGen struct{}

func (uuidGen) New() string { return uuid.NewString() }

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

type handle struct {
	id    string
	key   string
	owner string
	task  Task

	stop     chan struct{}
	stopOnce sync.Once

	running  atomic.Bool
	runs     atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64
	lastRun  atomic.Int64
}

func (h *handle) cancel() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *handle) info() Info {
	info := Info{
		ID:       h.id,
		Name:     h.task.Name,
		Owner:    h.owner,
		Interval: h.task.Interval,
		Runs:     h.runs.Load(),
		Failures: h.failures.Load(),
		Skipped:  h.skipped.Load(),
		Running:  h.running.Load(),
	}
	if ns := h.lastRun.Load(); ns != 0 {
		info.LastRun = time.Unix(0, ns)
	}
	return info
}

// Scheduler owns every registered schedule.
type Scheduler struct {
	mu      sync.Mutex
	handles map[string]*handle

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	stopping chan struct{}
	stopOnce sync.Once
	loops    sync.WaitGroup
	active   sync.WaitGroup

	grace   time.Duration
	ids     ports.IDGenerator
	clock   ports.Clock
	logger  zerolog.Logger
	metrics ports.Metrics
}

// NewScheduler creates a scheduler. metrics may be nil.
func NewScheduler(logger zerolog.Logger, metrics ports.Metrics, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.IDs == nil {
		cfg.IDs = uuidGen{}
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		handles:  make(map[string]*handle),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:      ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
		grace:    cfg.Grace,
		ids:      cfg.IDs,
		clock:    cfg.Clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// Register schedules every task declared by obj. Schedules are keyed by the
// owner's identity and the task name; registering an existing key cancels the
// previous schedule. Owners should be pointers: values of one type share a
// single identity, so a second value replaces the first one's schedules.
// Objects that do not implement Provider are ignored.
// Returns the number of tasks scheduled.
func (s *Scheduler) Register(obj any) int {
	p, ok := obj.(Provider)
	if !ok {
		return 0
	}

	owner := ownerID(obj)
	if reflect.ValueOf(obj).Kind() != reflect.Pointer {
		s.logger.Warn().
			Str("owner", owner).
			Msg("task owner is not a pointer; instances of this type share schedules")
	}
	scheduled := 0
	for _, task := range p.Tasks() {
		if task.Name == "" || task.Run == nil || task.Interval <= 0 {
			s.logger.Warn().
				Err(ErrInvalidTask).
				Str("task", task.Name).
				Str("owner", owner).
				Msg("task skipped")
			continue
		}
		if task.InitialDelay < 0 {
			task.InitialDelay = 0
		}
		if s.schedule(owner, task) {
			scheduled++
		}
	}
	return scheduled
}

func (s *Scheduler) schedule(owner string, task Task) bool {
	h := &handle{
		id:    s.ids.New(),
		key:   owner + "#" + task.Name,
		owner: owner,
		task:  task,
		stop:  make(chan struct{}),
	}

	s.mu.Lock()
	select {
	case <-s.stopping:
		s.mu.Unlock()
		s.logger.Warn().Str("task", task.Name).Msg("scheduler stopped, task not scheduled")
		return false
	default:
	}
	if prev, ok := s.handles[h.key]; ok {
		prev.cancel()
		s.logger.Debug().Str("task", task.Name).Str("owner", owner).Msg("task schedule replaced")
	}
	s.handles[h.key] = h
	s.loops.Add(1)
	s.mu.Unlock()

	go s.loop(h)

	s.logger.Debug().
		Str("task", task.Name).
		Str("id", h.id).
		Dur("delay", task.InitialDelay).
		Dur("interval", task.Interval).
		Msg("task scheduled")
	return true
}

func (s *Scheduler) loop(h *handle) {
	defer s.loops.Done()

	delay := time.NewTimer(h.task.InitialDelay)
	defer delay.Stop()

	select {
	case <-delay.C:
	case <-h.stop:
		return
	case <-s.stopping:
		return
	}

	ticker := time.NewTicker(h.task.Interval)
	defer ticker.Stop()

	for {
		s.fire(h)

		select {
		case <-ticker.C:
		case <-h.stop:
			return
		case <-s.stopping:
			return
		}
	}
}

// fire starts one run unless the previous run of h is still executing.
func (s *Scheduler) fire(h *handle) {
	if !h.running.CompareAndSwap(false, true) {
		h.skipped.Add(1)
		s.logger.Debug().Str("task", h.task.Name).Msg("previous run still executing, firing skipped")
		return
	}

	s.active.Add(1)
	go func() {
		defer s.active.Done()
		defer h.running.Store(false)

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)

		s.execute(h)
	}()
}

func (s *Scheduler) execute(h *handle) {
	stamp := s.clock.Now()
	start := time.Now()
	err := s.runBody(h)
	elapsed := time.Since(start)

	h.lastRun.Store(stamp.UnixNano())
	h.runs.Add(1)

	if err != nil {
		h.failures.Add(1)
		s.logger.Error().
			Err(err).
			Str("task", h.task.Name).
			Str("owner", h.owner).
			Msg("task failed")
	}

	if s.metrics != nil {
		s.metrics.TaskRun(h.task.Name, elapsed, err)
	}
}

func (s *Scheduler) runBody(h *handle) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, rec)
		}
	}()
	return h.task.Run(s.ctx)
}

// StopAll stops new firings and waits for running tasks. If they do not
// finish within the grace period, or ctx ends first, their contexts are
// cancelled and ErrShutdownTimeout is returned without further waiting.
func (s *Scheduler) StopAll(ctx context.Context) error {
	s.mu.Lock()
	s.stopOnce.Do(func() { close(s.stopping) })
	s.mu.Unlock()

	s.loops.Wait()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()

	grace := time.NewTimer(s.grace)
	defer grace.Stop()

	select {
	case <-done:
		s.cancel()
		s.logger.Debug().Msg("all tasks stopped")
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	s.cancel()
	s.logger.Warn().Dur("grace", s.grace).Msg("tasks still running, cancelled")
	return ErrShutdownTimeout
}

// List returns a snapshot of every live schedule sorted by owner then name.
func (s *Scheduler) List() []Info {
	s.mu.Lock()
	list := make([]Info, 0, len(s.handles))
	for _, h := range s.handles {
		list = append(list, h.info())
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Owner != list[j].Owner {
			return list[i].Owner < list[j].Owner
		}
		return list[i].Name < list[j].Name
	})
	return list
}

// ownerID identifies the registering object. Pointers are identified by
// address so two instances of one type keep separate schedules; any other
// value is identified by its type alone.
func ownerID(obj any) string {
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Pointer {
		return fmt.Sprintf("%T@%#x", obj, v.Pointer())
	}
	return fmt.Sprintf("%T", obj)
}
