// FILE: srpauth/src/cmd/srpauth/main.go
package main

import (
	"fmt"
	"os"

	"srpauth/src/cmd/srpauth/commands"
)

func main() {
	router := commands.NewCommandRouter()

	handled, err := router.Route(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
	if !handled {
		// No command given
		router.ShowCommands()
		os.Exit(1)
	}
}
