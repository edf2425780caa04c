// Package commands implements the kernel console: a registry of named
// commands, a line dispatcher and the read-dispatch loop.
package commands

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// User-facing responses.
const (
	MsgUnknown   = "Unknown command. Type 'help' for a list of commands."
	MsgDenied    = "Access Denied."
	MsgTooLong   = "Line too long; ignored."
	execErrorFmt = "Execution Error: %s"
)

var (
	// ErrAlreadyListening is returned when a second console loop is started.
	ErrAlreadyListening = errors.New("command loop already running")

	// ErrLineTooLong is returned by the line reader for a line over MaxLineLength.
	ErrLineTooLong = errors.New("console line too long")

	// ErrInvalidCommand is logged for commands without a name or handler.
	ErrInvalidCommand = errors.New("command has no name or handler")
)

// Sender is the origin of a command line and the sink for its responses.
type Sender interface {
	Name() string
	HasPermission(permission string) bool
	Send(message string)
}

// Command declares one console command. Exactly one of Run or RunArgs
// should be set; RunArgs receives the tokens after the command name.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Permission  string

	Run     func(sender Sender) error
	RunArgs func(sender Sender, args []string) error
}

// Provider exposes the commands of one object.
type Provider interface {
	Commands() []Command
}

// Registered is a stored command. Its primary name and every alias map to
// the same *Registered.
type Registered struct {
	Name        string
	Aliases     []string
	Description string
	Permission  string
	Owner       any
	TakesArgs   bool

	run func(Sender, []string) error
}

func (r *Registered) invoke(sender Sender, args []string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return r.run(sender, args)
}

// ConsoleSender is the local operator. It holds every permission and writes
// responses line by line to its writer.
type ConsoleSender struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSender creates a console sender writing to w.
func NewConsoleSender(w io.Writer) *ConsoleSender {
	return &ConsoleSender{w: w}
}

// Name returns "console".
func (c *ConsoleSender) Name() string { return "console" }

// HasPermission always reports true.
func (c *ConsoleSender) HasPermission(string) bool { return true }

// Send writes message followed by a newline.
func (c *ConsoleSender) Send(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, message)
}

func (c *ConsoleSender) prompt(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s > ", prefix)
}
