package kernel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/modkernel/core/commands"
	"github.com/artpar/modkernel/core/modules"
)

// PermissionManage guards commands that change persisted module configuration.
const PermissionManage = "kernel.manage"

type kernelCommands struct {
	k *Kernel
}

func (c kernelCommands) Commands() []commands.Command {
	return []commands.Command{
		{
			Name:        "modules",
			Aliases:     []string{"mods"},
			Description: "Lists loaded modules and their state.",
			Run:         c.listModules,
		},
		{
			Name:        "tasks",
			Description: "Lists scheduled tasks.",
			Run:         c.listTasks,
		},
		{
			Name:        "exclude",
			Description: "Excludes a module from the next start: exclude <module>",
			Permission:  PermissionManage,
			RunArgs: func(s commands.Sender, args []string) error {
				return c.setExcluded(s, args, true)
			},
		},
		{
			Name:        "include",
			Description: "Includes a previously excluded module: include <module>",
			Permission:  PermissionManage,
			RunArgs: func(s commands.Sender, args []string) error {
				return c.setExcluded(s, args, false)
			},
		},
		{
			Name:        "stop",
			Aliases:     []string{"quit", "exit"},
			Description: "Stops the console.",
			Run: func(s commands.Sender) error {
				s.Send("Stopping console.")
				c.k.Commands.Stop()
				return nil
			},
		},
	}
}

func (c kernelCommands) listModules(s commands.Sender) error {
	list := c.k.Modules.Modules()
	if len(list) == 0 {
		s.Send("No modules loaded.")
		return nil
	}

	s.Send(fmt.Sprintf("=== Modules (%d) ===", len(list)))
	for _, m := range list {
		line := fmt.Sprintf("- %s %s by %s [%s]", m.Name, m.Version, m.Author, m.State)
		if m.Depends != "" {
			line += " depends on " + m.Depends
		}
		if len(m.Stages) > 0 {
			line += " stages: " + strings.Join(m.Stages, ",")
		}
		if m.Error != "" {
			line += " error: " + m.Error
		}
		s.Send(line)
	}
	return nil
}

func (c kernelCommands) listTasks(s commands.Sender) error {
	list := c.k.Tasks.List()
	if len(list) == 0 {
		s.Send("No tasks scheduled.")
		return nil
	}

	s.Send(fmt.Sprintf("=== Tasks (%d) ===", len(list)))
	for _, t := range list {
		s.Send(fmt.Sprintf("- %s every %s, runs=%d failures=%d skipped=%d", t.Name, t.Interval, t.Runs, t.Failures, t.Skipped))
	}
	return nil
}

func (c kernelCommands) setExcluded(s commands.Sender, args []string, excluded bool) error {
	if len(args) != 1 {
		return errors.New("expected exactly one module name")
	}

	info, ok := c.k.Modules.Module(args[0])
	if !ok {
		return fmt.Errorf("%w: %s", modules.ErrModuleNotFound, args[0])
	}
	if err := c.k.Modules.SetExcluded(info.Manifest, excluded); err != nil {
		return err
	}

	verb := "included"
	if excluded {
		verb = "excluded"
	}
	s.Send(fmt.Sprintf("Module %s %s; takes effect on next start.", info.Name, verb))
	return nil
}
