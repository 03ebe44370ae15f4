// FILE: srpauth/src/cmd/srpauth/commands/config.go
package commands

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"srpauth/src/internal/config"
)

// ConfigCommand writes or checks configuration files.
type ConfigCommand struct {
	output io.Writer
	errOut io.Writer
}

func NewConfigCommand() *ConfigCommand {
	return &ConfigCommand{
		output: os.Stdout,
		errOut: os.Stderr,
	}
}

func (c *ConfigCommand) Execute(args []string) error {
	flagArgs, configArgs := splitArgs(args)

	cmd := flag.NewFlagSet("config", flag.ContinueOnError)
	cmd.SetOutput(c.errOut)

	var (
		initPath = cmd.String("init", "", "Write the default configuration to this file")
		force    = cmd.Bool("force", false, "Overwrite an existing file")
		check    = cmd.Bool("check", false, "Load and validate the effective configuration")
	)
	cmd.Usage = func() {
		fmt.Fprint(c.errOut, c.Help())
		fmt.Fprintln(c.errOut, "Options:")
		cmd.PrintDefaults()
	}

	if err := cmd.Parse(flagArgs); err != nil {
		return err
	}
	if cmd.NArg() > 0 {
		return fmt.Errorf("unexpected argument(s): %s", strings.Join(cmd.Args(), " "))
	}

	switch {
	case *initPath != "":
		if _, err := os.Stat(*initPath); err == nil && !*force {
			return fmt.Errorf("%s already exists (use -force to overwrite)", *initPath)
		}
		if err := config.Defaults().SaveToFile(*initPath); err != nil {
			return err
		}
		fmt.Fprintf(c.output, "Default configuration written to %s\n", *initPath)
		return nil

	case *check:
		cfg, err := config.Load(configArgs)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.output, "Configuration OK (%s)\n", config.GetConfigPath())
		fmt.Fprintf(c.output, "  api:   %s (backend %s)\n", cfg.API.BaseURL, cfg.API.Backend)
		fmt.Fprintf(c.output, "  store: %s\n", cfg.Store.Type)
		fmt.Fprintf(c.output, "  users: %d test user(s)\n", len(cfg.TestServer.Users))
		return nil

	default:
		cmd.Usage()
		return fmt.Errorf("one of -init or -check is required")
	}
}

func (c *ConfigCommand) Description() string {
	return "Write or validate the configuration file"
}

func (c *ConfigCommand) Help() string {
	return `Config Command - Manage the configuration file

Usage:
  srpauth config -init <file> [-force]
  srpauth config -check [--section.key=value ...]

Examples:
  srpauth config -init ~/.config/srpauth.toml
  SRPAUTH_CONFIG_FILE=./dev.toml srpauth config -check
`
}
