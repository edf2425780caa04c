package commands

import "fmt"

type helpCommands struct {
	d *Dispatcher
}

func (h helpCommands) Commands() []Command {
	return []Command{{
		Name:        "help",
		Aliases:     []string{"?", "h"},
		Description: "Lists all available commands.",
		Run:         h.help,
	}}
}

func (h helpCommands) help(sender Sender) error {
	sender.Send("=== Available Commands ===")
	for _, reg := range h.d.Commands() {
		sender.Send(fmt.Sprintf("- %s: %s", reg.Name, reg.Description))
	}
	return nil
}
