// FILE: srpauth/src/cmd/srpauth/commands/version.go
package commands

import (
	"fmt"

	"srpauth/src/internal/version"
)

// VersionCommand handles version display
type VersionCommand struct{}

func NewVersionCommand() *VersionCommand {
	return &VersionCommand{}
}

func (c *VersionCommand) Execute(args []string) error {
	fmt.Println(version.String())
	fmt.Printf("app version: %s\n", version.AppVersion())
	return nil
}

func (c *VersionCommand) Description() string {
	return "Show version information"
}

func (c *VersionCommand) Help() string {
	return `Version Command - Show srpauth version information

Usage:
  srpauth version
  srpauth -v
`
}
