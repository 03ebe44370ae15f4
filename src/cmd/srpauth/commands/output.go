// FILE: srpauth/src/cmd/srpauth/commands/output.go
package commands

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// OutputHandler writes user-facing output, respecting quiet mode.
// Errors are always written.
type OutputHandler struct {
	quiet  bool
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

func NewOutputHandler(quiet bool) *OutputHandler {
	return &OutputHandler{
		quiet:  quiet,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Print writes to stdout unless quiet.
func (o *OutputHandler) Print(format string, args ...any) {
	if o.quiet {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.stdout, format, args...)
}

// Prompt writes to stderr even in quiet mode so stdout stays parseable.
func (o *OutputHandler) Prompt(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.stderr, format, args...)
}

// Error writes to stderr.
func (o *OutputHandler) Error(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.stderr, format, args...)
}

func (o *OutputHandler) IsQuiet() bool {
	return o.quiet
}
