// Package idgen names task schedules. The kernel uses UUID; tests use
// Sequential for predictable ids such as "task-1".
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/artpar/modkernel/ports"
	"github.com/google/uuid"
)

var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = (*Sequential)(nil)
)

type UUID struct{}

func (UUID) New() string { return uuid.NewString() }

// Sequential yields prefix1, prefix2, ... and is safe for concurrent use.
type Sequential struct {
	prefix string
	n      atomic.Uint64
}

func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.n.Add(1), 10)
}

// Reset starts the sequence over at 1.
func (s *Sequential) Reset() { s.n.Store(0) }
