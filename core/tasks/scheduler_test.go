package tasks

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/modkernel/adapters/clock"
	"github.com/artpar/modkernel/adapters/idgen"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	s := NewScheduler(zerolog.Nop(), nil, cfg)
	t.Cleanup(func() {
		_ = s.StopAll(context.Background())
	})
	return s
}

type taskFunc struct {
	tasks []Task
}

func (f *taskFunc) Tasks() []Task { return f.tasks }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRegister_NotAProvider(t *testing.T) {
	s := testScheduler(t, Config{})
	if n := s.Register(struct{}{}); n != 0 {
		t.Errorf("Register() = %d, want 0", n)
	}
}

func TestRegister_SkipsInvalid(t *testing.T) {
	s := testScheduler(t, Config{})
	body := func(context.Context) error { return nil }

	n := s.Register(&taskFunc{tasks: []Task{
		{Name: "", Interval: time.Second, Run: body},
		{Name: "no-body", Interval: time.Second},
		{Name: "zero-interval", Run: body},
		{Name: "valid", InitialDelay: time.Hour, Interval: time.Hour, Run: body},
	}})
	if n != 1 {
		t.Errorf("Register() = %d, want 1", n)
	}
	if got := len(s.List()); got != 1 {
		t.Errorf("len(List()) = %d, want 1", got)
	}
}

func TestInfo_UsesConfiguredClockAndIDs(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := testScheduler(t, Config{
		IDs:   idgen.NewSequential("task-"),
		Clock: clock.NewFake(at),
	})

	var runs atomic.Int32
	s.Register(&taskFunc{tasks: []Task{{
		Name:     "restock",
		Interval: time.Hour,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}}})
	waitFor(t, func() bool { return runs.Load() == 1 })
	waitFor(t, func() bool { return s.List()[0].Runs == 1 })

	info := s.List()[0]
	if info.ID != "task-1" {
		t.Errorf("ID = %s, want task-1", info.ID)
	}
	if !info.LastRun.Equal(at) {
		t.Errorf("LastRun = %v, want %v", info.LastRun, at)
	}
}

// TestFailingTaskKeepsFiring verifies a failing run does not cancel later firings.
func TestFailingTaskKeepsFiring(t *testing.T) {
	s := testScheduler(t, Config{})

	var calls atomic.Int32
	s.Register(&taskFunc{tasks: []Task{{
		Name:     "checkStock",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			if calls.Add(1) == 1 {
				return errors.New("sensor offline")
			}
			return nil
		},
	}}})

	waitFor(t, func() bool { return calls.Load() >= 3 })

	info := s.List()[0]
	if info.Failures != 1 {
		t.Errorf("Failures = %d, want 1", info.Failures)
	}
}

func TestPanickingTaskKeepsFiring(t *testing.T) {
	s := testScheduler(t, Config{})

	var calls atomic.Int32
	s.Register(&taskFunc{tasks: []Task{{
		Name:     "explode",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			calls.Add(1)
			panic("boom")
		},
	}}})

	waitFor(t, func() bool { return calls.Load() >= 2 })
}

// TestOverlappingFiringSkipped verifies a slow run is never overlapped by its own next firing.
func TestOverlappingFiringSkipped(t *testing.T) {
	s := testScheduler(t, Config{})

	release := make(chan struct{})
	var concurrent, maxConcurrent, calls atomic.Int32
	s.Register(&taskFunc{tasks: []Task{{
		Name:     "slow",
		Interval: 2 * time.Millisecond,
		Run: func(ctx context.Context) error {
			calls.Add(1)
			n := concurrent.Add(1)
			defer concurrent.Add(-1)
			if n > maxConcurrent.Load() {
				maxConcurrent.Store(n)
			}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}}})

	waitFor(t, func() bool { return s.List()[0].Skipped >= 3 })
	close(release)

	if got := maxConcurrent.Load(); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
}

func TestInitialDelay(t *testing.T) {
	s := testScheduler(t, Config{})

	var calls atomic.Int32
	s.Register(&taskFunc{tasks: []Task{{
		Name:         "later",
		InitialDelay: time.Hour,
		Interval:     time.Millisecond,
		Run: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	}}})

	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("task ran %d times before its initial delay", calls.Load())
	}
}

// TestReRegisterReplaces verifies the same owner and name keep a single live schedule.
func TestReRegisterReplaces(t *testing.T) {
	s := testScheduler(t, Config{})

	var first, second atomic.Int32
	owner := &taskFunc{}

	owner.tasks = []Task{{Name: "sync", Interval: 2 * time.Millisecond, Run: func(context.Context) error {
		first.Add(1)
		return nil
	}}}
	s.Register(owner)
	waitFor(t, func() bool { return first.Load() >= 1 })

	owner.tasks = []Task{{Name: "sync", Interval: 2 * time.Millisecond, Run: func(context.Context) error {
		second.Add(1)
		return nil
	}}}
	s.Register(owner)
	waitFor(t, func() bool { return second.Load() >= 1 })

	stale := first.Load()
	time.Sleep(20 * time.Millisecond)
	if first.Load() > stale+1 {
		t.Errorf("replaced schedule kept firing: %d -> %d", stale, first.Load())
	}
	if got := len(s.List()); got != 1 {
		t.Errorf("len(List()) = %d, want 1", got)
	}
}

// TestSeparateOwners verifies two instances of one type keep separate schedules.
func TestSeparateOwners(t *testing.T) {
	s := testScheduler(t, Config{})
	body := func(context.Context) error { return nil }

	s.Register(&taskFunc{tasks: []Task{{Name: "sync", InitialDelay: time.Hour, Interval: time.Hour, Run: body}}})
	s.Register(&taskFunc{tasks: []Task{{Name: "sync", InitialDelay: time.Hour, Interval: time.Hour, Run: body}}})

	if got := len(s.List()); got != 2 {
		t.Errorf("len(List()) = %d, want 2", got)
	}
}

func TestStopAll_Graceful(t *testing.T) {
	s := NewScheduler(zerolog.Nop(), nil, Config{Grace: time.Second})

	var calls atomic.Int32
	s.Register(&taskFunc{tasks: []Task{{
		Name:     "quick",
		Interval: time.Millisecond,
		Run: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	}}})
	waitFor(t, func() bool { return calls.Load() >= 1 })

	if err := s.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}

	after := calls.Load()
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != after {
		t.Error("task fired after StopAll")
	}

	if n := s.Register(&taskFunc{tasks: []Task{{Name: "late", Interval: time.Millisecond, Run: func(context.Context) error { return nil }}}}); n != 0 {
		t.Errorf("Register after StopAll = %d, want 0", n)
	}
}

func TestStopAll_Timeout(t *testing.T) {
	s := NewScheduler(zerolog.Nop(), nil, Config{Grace: 20 * time.Millisecond})

	started := make(chan struct{})
	cancelled := make(chan struct{})
	s.Register(&taskFunc{tasks: []Task{{
		Name:     "stubborn",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	}}})
	<-started

	if err := s.StopAll(context.Background()); !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("StopAll() error = %v, want ErrShutdownTimeout", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running task context was not cancelled")
	}
}

func TestWorkerBound(t *testing.T) {
	s := testScheduler(t, Config{Workers: 1})

	var concurrent, maxConcurrent, calls atomic.Int32
	body := func(context.Context) error {
		n := concurrent.Add(1)
		if n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		time.Sleep(time.Millisecond)
		concurrent.Add(-1)
		calls.Add(1)
		return nil
	}

	s.Register(&taskFunc{tasks: []Task{
		{Name: "a", Interval: time.Millisecond, Run: body},
		{Name: "b", Interval: time.Millisecond, Run: body},
		{Name: "c", Interval: time.Millisecond, Run: body},
	}})

	waitFor(t, func() bool { return calls.Load() >= 6 })
	if got := maxConcurrent.Load(); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// valueTasks declares tasks on a value receiver.
type valueTasks struct{ label string }

func (v valueTasks) Tasks() []Task {
	return []Task{{Name: "sweep", Interval: time.Hour, Run: func(context.Context) error { return nil }}}
}

func TestRegister_ValueOwnerSharesSchedule(t *testing.T) {
	logs := &lockedBuffer{}
	s := NewScheduler(zerolog.New(logs).Level(zerolog.WarnLevel), nil, Config{})
	t.Cleanup(func() { _ = s.StopAll(context.Background()) })

	s.Register(valueTasks{label: "a"})
	s.Register(valueTasks{label: "b"})

	if got := len(s.List()); got != 1 {
		t.Errorf("schedules = %d, want 1 (value owners share an identity)", got)
	}
	if !strings.Contains(logs.String(), "task owner is not a pointer") {
		t.Errorf("missing warning, logs:\n%s", logs.String())
	}

	logs.mu.Lock()
	logs.buf.Reset()
	logs.mu.Unlock()
	s.Register(&taskFunc{tasks: valueTasks{}.Tasks()})
	if strings.Contains(logs.String(), "not a pointer") {
		t.Error("pointer owner should not be warned about")
	}
}

func TestOwnerID(t *testing.T) {
	a, b := &taskFunc{}, &taskFunc{}
	if ownerID(a) == ownerID(b) {
		t.Error("distinct pointers should have distinct owner ids")
	}
	if ownerID(a) != ownerID(a) {
		t.Error("owner id should be stable")
	}
	if ownerID(struct{}{}) != "struct {}" {
		t.Errorf("ownerID(struct{}{}) = %q", ownerID(struct{}{}))
	}
}
