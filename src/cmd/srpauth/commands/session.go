// FILE: srpauth/src/cmd/srpauth/commands/session.go
package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"srpauth/src/internal/session"
)

// sessionFlags selects a saved session, either from the configured store
// or from refresh data given on the command line.
type sessionFlags struct {
	uid          *string
	refreshToken *string
}

func registerSessionFlags(cmd *flag.FlagSet) sessionFlags {
	return sessionFlags{
		uid:          cmd.String("uid", "", "Session UID (required)"),
		refreshToken: cmd.String("refresh-token", "", "Refresh token; when empty the session is loaded from the store"),
	}
}

// restore rebuilds the selected session. Restoring always rotates the
// refresh token.
func (f sessionFlags) restore(ctx context.Context, rt *runtime) (*session.Session, error) {
	if *f.uid == "" {
		return nil, fmt.Errorf("session UID (-uid) is required")
	}
	opts := rt.sessionOptions()

	if *f.refreshToken != "" {
		return session.Restore(ctx, rt.transport, session.RefreshData{
			UID:          *f.uid,
			RefreshToken: *f.refreshToken,
		}, opts)
	}
	if rt.store == nil {
		return nil, fmt.Errorf("no session store configured; pass -refresh-token or set store.type")
	}
	return session.Load(ctx, rt.transport, *f.uid, opts)
}

// ResumeCommand restores a saved session and prints the account.
type ResumeCommand struct {
	errOut io.Writer
}

func NewResumeCommand() *ResumeCommand {
	return &ResumeCommand{errOut: os.Stderr}
}

func (c *ResumeCommand) Execute(args []string) error {
	flagArgs, configArgs := splitArgs(args)

	cmd := flag.NewFlagSet("resume", flag.ContinueOnError)
	cmd.SetOutput(c.errOut)
	sf := registerSessionFlags(cmd)
	quiet := cmd.Bool("q", false, "Suppress output except errors")
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

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, configArgs, *quiet)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := sf.restore(ctx, rt)
	if err != nil {
		return err
	}

	if err := printUser(ctx, rt, sess); err != nil {
		return err
	}

	// Without a store the rotated token would otherwise be lost
	if rt.store == nil {
		rt.out.Print("  Refresh token: %s\n", sess.RefreshData().RefreshToken)
	}
	return nil
}

func (c *ResumeCommand) Description() string {
	return "Restore a saved session and print the account"
}

func (c *ResumeCommand) Help() string {
	return `Resume Command - Restore a session without the password

Usage:
  srpauth resume -uid <uid> [-refresh-token <token>] [--section.key=value ...]

The session is refreshed once, so the stored refresh token is replaced.
Without a configured store the new refresh token is printed.

Examples:
  srpauth resume -uid 3f2a... --store.type=redis
  srpauth resume -uid 3f2a... -refresh-token r1
`
}

// LogoutCommand revokes a saved session.
type LogoutCommand struct {
	errOut io.Writer
}

func NewLogoutCommand() *LogoutCommand {
	return &LogoutCommand{errOut: os.Stderr}
}

func (c *LogoutCommand) Execute(args []string) error {
	flagArgs, configArgs := splitArgs(args)

	cmd := flag.NewFlagSet("logout", flag.ContinueOnError)
	cmd.SetOutput(c.errOut)
	sf := registerSessionFlags(cmd)
	quiet := cmd.Bool("q", false, "Suppress output except errors")
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

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, configArgs, *quiet)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := sf.restore(ctx, rt)
	if err != nil {
		return err
	}

	// The session is invalidated locally even when this fails
	if err := sess.Logout(ctx); err != nil {
		return err
	}
	rt.out.Print("Logged out %s\n", sess.UID())
	return nil
}

func (c *LogoutCommand) Description() string {
	return "Revoke a saved session"
}

func (c *LogoutCommand) Help() string {
	return `Logout Command - Revoke a saved session

Usage:
  srpauth logout -uid <uid> [-refresh-token <token>] [--section.key=value ...]

The stored refresh data is removed even if the server cannot be reached.
`
}
