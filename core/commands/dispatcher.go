package commands

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/artpar/modkernel/ports"
	"github.com/rs/zerolog"
)

// Dispatcher maps lowercased command names and aliases to commands and runs
// the console loop over one shared input.
type Dispatcher struct {
	mu       sync.RWMutex
	commands map[string]*Registered

	in      *bufio.Reader
	console *ConsoleSender

	listening atomic.Bool
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}

	logger  zerolog.Logger
	metrics ports.Metrics
}

// NewDispatcher creates a dispatcher reading lines from in and writing console
// output to out. The built-in help command is registered. metrics may be nil.
func NewDispatcher(in io.Reader, out io.Writer, logger zerolog.Logger, metrics ports.Metrics) *Dispatcher {
	d := &Dispatcher{
		commands: make(map[string]*Registered),
		in:       bufio.NewReader(in),
		console:  NewConsoleSender(out),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger,
		metrics:  metrics,
	}
	d.Register(helpCommands{d})
	return d
}

// Console returns the sender used by the console loop.
func (d *Dispatcher) Console() *ConsoleSender {
	return d.console
}

// Register stores every command declared by obj under its lowercased name
// and aliases. A key that is already taken is overwritten.
// Objects that do not implement Provider are ignored. Returns the number of
// commands stored.
func (d *Dispatcher) Register(obj any) int {
	p, ok := obj.(Provider)
	if !ok {
		return 0
	}

	stored := 0
	for _, cmd := range p.Commands() {
		reg, err := newRegistered(cmd, obj)
		if err != nil {
			d.logger.Warn().
				Err(err).
				Str("command", cmd.Name).
				Str("owner", fmt.Sprintf("%T", obj)).
				Msg("command skipped")
			continue
		}

		d.mu.Lock()
		for _, key := range append([]string{reg.Name}, reg.Aliases...) {
			if prev, taken := d.commands[key]; taken && prev != reg {
				d.logger.Debug().
					Str("key", key).
					Str("previous", prev.Name).
					Str("command", reg.Name).
					Msg("command key overwritten")
			}
			d.commands[key] = reg
		}
		d.mu.Unlock()

		d.logger.Debug().
			Str("command", reg.Name).
			Strs("aliases", reg.Aliases).
			Msg("command registered")
		stored++
	}
	return stored
}

func newRegistered(cmd Command, owner any) (*Registered, error) {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" || strings.ContainsAny(name, " \t") || (cmd.Run == nil && cmd.RunArgs == nil) {
		return nil, ErrInvalidCommand
	}

	reg := &Registered{
		Name:        name,
		Description: cmd.Description,
		Permission:  cmd.Permission,
		Owner:       owner,
	}
	for _, alias := range cmd.Aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias != "" && alias != name {
			reg.Aliases = append(reg.Aliases, alias)
		}
	}

	if cmd.RunArgs != nil {
		reg.TakesArgs = true
		reg.run = cmd.RunArgs
	} else {
		run := cmd.Run
		reg.run = func(s Sender, _ []string) error { return run(s) }
	}
	return reg, nil
}

// Lookup returns the command stored under name or alias, in any case.
func (d *Dispatcher) Lookup(name string) (*Registered, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.commands[strings.ToLower(name)]
	return reg, ok
}

// Commands returns every distinct command sorted by name.
func (d *Dispatcher) Commands() []*Registered {
	d.mu.RLock()
	seen := make(map[*Registered]bool, len(d.commands))
	list := make([]*Registered, 0, len(d.commands))
	for _, reg := range d.commands {
		if !seen[reg] {
			seen[reg] = true
			list = append(list, reg)
		}
	}
	d.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Execute parses line and runs the matching command on behalf of sender.
// Every outcome is reported to sender; Execute itself never fails.
func (d *Dispatcher) Execute(sender Sender, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	reg, ok := d.Lookup(fields[0])
	if !ok {
		sender.Send(MsgUnknown)
		d.record("", "unknown")
		return
	}

	if reg.Permission != "" && !sender.HasPermission(reg.Permission) {
		sender.Send(MsgDenied)
		d.record(reg.Name, "denied")
		return
	}

	var args []string
	if reg.TakesArgs {
		args = fields[1:]
	}

	if err := reg.invoke(sender, args); err != nil {
		d.logger.Error().
			Err(err).
			Str("command", reg.Name).
			Str("sender", sender.Name()).
			Msg("command failed")
		sender.Send(fmt.Sprintf(execErrorFmt, err.Error()))
		d.record(reg.Name, "error")
		return
	}
	d.record(reg.Name, "ok")
}

func (d *Dispatcher) record(command, result string) {
	if d.metrics != nil {
		d.metrics.CommandExecuted(command, result)
	}
}
