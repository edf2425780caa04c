// Package clock supplies the time source the scheduler stamps task runs with.
// Real is wired by bootstrap; Fake pins LastRun in scheduler tests.
package clock

import (
	"sync"
	"time"

	"github.com/artpar/modkernel/ports"
)

var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)

type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fake stands still until Set or Advance moves it.
type Fake struct {
	mu  sync.RWMutex
	now time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.now
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d; a negative d moves it back.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
