// FILE: srpauth/src/cmd/srpauth/commands/help.go
package commands

import (
	"fmt"
	"sort"
	"strings"
)

const generalHelpTemplate = `srpauth: SRP login, session refresh and a local protocol test server.

Usage:
  srpauth <command> [options] [--section.key=value ...]

Commands:
%s

Configuration Sources (Precedence: CLI > Env > File > Defaults):
  --section.key=value      Override any config key, e.g. --api.backend=async
  SRPAUTH_SECTION_KEY      Environment override, e.g. SRPAUTH_API_BASE_URL
  SRPAUTH_CONFIG_FILE      Config file path (default: ~/.config/srpauth.toml)
  SRPAUTH_CONFIG_DIR       Directory holding srpauth.toml

For command-specific help:
  srpauth help <command>
  srpauth <command> --help

Examples:
  # Start a local test server with the users from the config file
  srpauth serve

  # Log in against it and keep the session in Redis
  srpauth login -u alice --store.type=redis

The default api.base_url (http://127.0.0.1:8089/api) is the local test server.
Hosted services that PGP-sign their SRP modulus are not compatible.
`

// HelpCommand displays general or command-specific help.
type HelpCommand struct {
	router *CommandRouter
}

func NewHelpCommand(router *CommandRouter) *HelpCommand {
	return &HelpCommand{router: router}
}

func (c *HelpCommand) Execute(args []string) error {
	if len(args) > 0 && args[0] != "" {
		cmdName := args[0]

		if handler, exists := c.router.GetCommand(cmdName); exists {
			fmt.Print(handler.Help())
			return nil
		}

		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Printf(generalHelpTemplate, c.formatCommandList())
	return nil
}

func (c *HelpCommand) Description() string {
	return "Display help information"
}

func (c *HelpCommand) Help() string {
	return `Help Command - Display help information

Usage:
  srpauth help              Show general help
  srpauth help <command>    Show help for a specific command
`
}

// formatCommandList creates an aligned list of all available commands.
func (c *HelpCommand) formatCommandList() string {
	commands := c.router.GetCommands()

	names := make([]string, 0, len(commands))
	maxLen := 0
	for name := range commands {
		names = append(names, name)
		if len(name) > maxLen {
			maxLen = len(name)
		}
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		padding := strings.Repeat(" ", maxLen-len(name)+2)
		lines = append(lines, fmt.Sprintf("  %s%s%s", name, padding, commands[name].Description()))
	}

	return strings.Join(lines, "\n")
}
