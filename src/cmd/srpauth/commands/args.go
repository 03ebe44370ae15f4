// FILE: srpauth/src/cmd/srpauth/commands/args.go
package commands

import (
	"strings"
)

// splitArgs separates config overrides (--section.key=value) from the
// command's own flags. Anything after a bare "--" is left to the flags.
func splitArgs(args []string) (flagArgs, configArgs []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			flagArgs = append(flagArgs, args[i:]...)
			break
		}
		if isConfigArg(arg) {
			configArgs = append(configArgs, arg)
			// --section.key value
			if !strings.Contains(arg, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				configArgs = append(configArgs, args[i+1])
				i++
			}
			continue
		}
		flagArgs = append(flagArgs, arg)
	}
	return flagArgs, configArgs
}

func isConfigArg(arg string) bool {
	if !strings.HasPrefix(arg, "--") {
		return false
	}
	key, _, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
	return strings.Contains(key, ".")
}
