// FILE: srpauth/src/cmd/srpauth/commands/router.go
package commands

import (
	"fmt"
	"os"
	"sort"
)

// Handler defines the interface required for all subcommands.
type Handler interface {
	Execute(args []string) error
	Description() string
	Help() string
}

// CommandRouter routes CLI arguments to subcommand handlers.
type CommandRouter struct {
	commands map[string]Handler
}

// NewCommandRouter creates the router with all available commands.
func NewCommandRouter() *CommandRouter {
	router := &CommandRouter{
		commands: make(map[string]Handler),
	}

	router.commands["login"] = NewLoginCommand()
	router.commands["resume"] = NewResumeCommand()
	router.commands["logout"] = NewLogoutCommand()
	router.commands["serve"] = NewServeCommand()
	router.commands["cert"] = NewCertCommand()
	router.commands["config"] = NewConfigCommand()
	router.commands["version"] = NewVersionCommand()
	router.commands["help"] = NewHelpCommand(router)

	return router
}

// Route executes the subcommand named by args[1]. It reports false when
// no command was given.
func (r *CommandRouter) Route(args []string) (bool, error) {
	if len(args) < 2 {
		return false, nil
	}

	cmdName := args[1]

	for _, arg := range args[1:] {
		if arg == "-h" || arg == "--help" {
			if handler, exists := r.commands[cmdName]; exists && cmdName != "help" {
				fmt.Print(handler.Help())
				return true, nil
			}
			return true, r.commands["help"].Execute(nil)
		}
	}

	switch cmdName {
	case "-v", "--version":
		cmdName = "version"
	}

	handler, exists := r.commands[cmdName]
	if !exists {
		return false, fmt.Errorf("unknown command: %s\n\nRun 'srpauth help' for usage", cmdName)
	}

	return true, handler.Execute(args[2:])
}

// GetCommand returns a command handler by name.
func (r *CommandRouter) GetCommand(name string) (Handler, bool) {
	cmd, exists := r.commands[name]
	return cmd, exists
}

// GetCommands returns all registered commands.
func (r *CommandRouter) GetCommands() map[string]Handler {
	return r.commands
}

// ShowCommands lists the available subcommands on stderr.
func (r *CommandRouter) ShowCommands() {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(os.Stderr, "Usage: srpauth <command> [options]")
	fmt.Fprintln(os.Stderr)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, r.commands[name].Description())
	}
	fmt.Fprintln(os.Stderr, "\nUse 'srpauth <command> --help' for command-specific help")
}
