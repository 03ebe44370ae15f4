// FILE: srpauth/src/cmd/srpauth/commands/prompt.go
package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"
)

// prompter reads answers from a terminal without echo, or line by line
// from any other reader.
type prompter struct {
	in  io.Reader
	out *OutputHandler
	br  *bufio.Reader
}

func newPrompter(in io.Reader, out *OutputHandler) *prompter {
	return &prompter{in: in, out: out}
}

// secret reads a value without echoing it when input is a terminal.
func (p *prompter) secret(label string) ([]byte, error) {
	p.out.Prompt("%s: ", label)

	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		value, err := term.ReadPassword(int(f.Fd()))
		p.out.Prompt("\n")
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
		}
		return value, nil
	}

	line, err := p.line()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return []byte(line), nil
}

// text reads a visible value.
func (p *prompter) text(label string) (string, error) {
	p.out.Prompt("%s: ", label)
	line, err := p.line()
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return line, nil
}

func (p *prompter) line() (string, error) {
	if p.br == nil {
		p.br = bufio.NewReader(p.in)
	}
	line, err := p.br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
