package commands

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// MaxLineLength bounds one console line. Longer lines are reported and skipped.
const MaxLineLength = 1 << 20

// Listen runs the console loop on the calling goroutine: print the prompt
// "<prefix> > ", read one line, dispatch it as the console sender, repeat.
// It returns nil at end of input or after Stop, and ctx.Err() once ctx is
// done. Cancellation and Stop are observed between lines; a pending read is
// not interrupted.
func (d *Dispatcher) Listen(ctx context.Context, prefix string) error {
	if !d.listening.CompareAndSwap(false, true) {
		return ErrAlreadyListening
	}
	defer close(d.done)

	d.logger.Debug().Str("prefix", prefix).Msg("command loop started")
	defer d.logger.Debug().Msg("command loop stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.stopped() {
			return nil
		}

		d.console.prompt(prefix)
		line, err := d.readLine()
		switch {
		case errors.Is(err, ErrLineTooLong):
			d.logger.Warn().Int("limit", MaxLineLength).Msg("console line too long")
			d.console.Send(MsgTooLong)
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		d.Execute(d.console, line)
	}
}

// readLine returns the next line without its terminator. A line longer than
// MaxLineLength is consumed and reported as ErrLineTooLong. io.EOF is only
// returned once no input is left.
func (d *Dispatcher) readLine() (string, error) {
	var (
		buf     []byte
		tooLong bool
		read    bool
	)
	for {
		chunk, err := d.in.ReadSlice('\n')
		read = read || len(chunk) > 0
		if !tooLong {
			if len(buf)+len(chunk) > MaxLineLength+2 {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !(errors.Is(err, io.EOF) && read) {
			return "", err
		}
		break
	}

	line := strings.TrimRight(string(buf), "\r\n")
	if tooLong || len(line) > MaxLineLength {
		return "", ErrLineTooLong
	}
	return line, nil
}

// StartListening runs Listen on its own goroutine and returns immediately.
// Use Done to wait for the loop to end.
func (d *Dispatcher) StartListening(prefix string) {
	go func() {
		if err := d.Listen(context.Background(), prefix); err != nil {
			d.logger.Error().Err(err).Msg("command loop ended with error")
		}
	}()
}

// Stop asks the console loop to exit before reading its next line.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Done is closed when the console loop has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) stopped() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}
