// FILE: srpauth/src/cmd/srpauth/commands/login.go
package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"srpauth/src/internal/api"
	"srpauth/src/internal/auth"
	"srpauth/src/internal/session"
)

// LoginCommand runs the full SRP handshake and prints the account.
type LoginCommand struct {
	in     io.Reader
	errOut io.Writer
}

func NewLoginCommand() *LoginCommand {
	return &LoginCommand{
		in:     os.Stdin,
		errOut: os.Stderr,
	}
}

func (c *LoginCommand) Execute(args []string) error {
	flagArgs, configArgs := splitArgs(args)

	cmd := flag.NewFlagSet("login", flag.ContinueOnError)
	cmd.SetOutput(c.errOut)

	var (
		username   = cmd.String("u", "", "Username (default: auth.username)")
		totp       = cmd.String("totp", "", "Second factor code; prompted for when required and empty")
		hvToken    = cmd.String("hv-token", "", "Solved human verification token")
		hvType     = cmd.String("hv-type", "captcha", "Human verification token type")
		captchaOut = cmd.String("captcha-out", "", "Write the captcha page here when verification is required")
		logout     = cmd.Bool("logout", false, "Log out again after fetching the user")
		quiet      = cmd.Bool("q", false, "Suppress output except prompts and errors")
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

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, configArgs, *quiet)
	if err != nil {
		return err
	}
	defer rt.Close()

	p := newPrompter(c.in, rt.out)

	user := *username
	if user == "" {
		user = rt.cfg.Auth.Username
	}
	if user == "" {
		if user, err = p.text("Username"); err != nil {
			return err
		}
	}

	password, err := p.secret("Password")
	if err != nil {
		return err
	}
	defer zero(password)

	opts := []auth.Option{
		auth.WithLogger(rt.logger),
		auth.WithMetrics(rt.metrics),
		auth.WithHVTable(rt.hvTable),
		auth.WithInfoRetry(rt.cfg.Auth.InfoRetries, rt.cfg.Auth.InfoBackoff(), rt.cfg.Auth.MaxBackoff()),
		auth.WithSecondFactorWindow(rt.cfg.Auth.SecondFactorWindow()),
		auth.WithSessionOptions(rt.sessionOptions()),
	}
	if *hvToken != "" {
		opts = append(opts, auth.WithHumanVerification(*hvToken, *hvType))
	}
	h := auth.NewHandshake(rt.transport, opts...)

	sess, requirement, err := h.Login(ctx, user, password)
	if err != nil {
		if errors.Is(err, api.ErrHumanVerificationRequired) {
			c.reportHumanVerification(ctx, rt, err, *captchaOut)
		}
		return err
	}

	if requirement != nil {
		if sess, err = c.secondFactor(ctx, h, p, requirement, *totp); err != nil {
			return err
		}
	}

	if err := printUser(ctx, rt, sess); err != nil {
		return err
	}

	if *logout {
		if err := h.Logout(ctx); err != nil {
			return err
		}
		rt.out.Print("Logged out\n")
		return nil
	}

	if rt.store != nil {
		rt.out.Print("Session saved (store: %s); resume with: srpauth resume -uid %s\n", rt.cfg.Store.Type, sess.UID())
	}
	return nil
}

func (c *LoginCommand) secondFactor(ctx context.Context, h *auth.Handshake, p *prompter,
	req *auth.SecondFactorRequirement, code string) (*session.Session, error) {
	if !slices.Contains(req.Methods, auth.MethodTOTP) {
		h.Abort()
		return nil, fmt.Errorf("second factor methods %v are not supported", req.Methods)
	}

	if code == "" {
		p.out.Prompt("Two-factor authentication required (expires %s)\n", req.ExpiresAt.Format("15:04:05"))
		secret, err := p.secret("Code")
		if err != nil {
			h.Abort()
			return nil, err
		}
		code = strings.TrimSpace(string(secret))
	}

	sess, err := h.SubmitSecondFactor(ctx, code)
	if err != nil && h.State() == auth.SecondFactorPending {
		// Revoke the half-authenticated session rather than leave it to expire
		_ = h.Logout(ctx)
	}
	return sess, err
}

// reportHumanVerification prints the challenge and optionally saves the
// captcha page so the user can solve it and retry with -hv-token.
func (c *LoginCommand) reportHumanVerification(ctx context.Context, rt *runtime, err error, captchaOut string) {
	var authErr *api.AuthError
	if !errors.As(err, &authErr) || authErr.HumanVerification == nil {
		return
	}
	hv := authErr.HumanVerification

	rt.out.Error("Human verification required (methods: %s)\n", strings.Join(hv.Methods, ", "))
	rt.out.Error("Token: %s\n", hv.Token)

	if captchaOut != "" {
		page, cerr := rt.dispatcher(nil).Captcha(ctx, hv.Token)
		if cerr != nil {
			rt.out.Error("Failed to fetch captcha: %v\n", cerr)
		} else if werr := os.WriteFile(captchaOut, page, 0o600); werr != nil {
			rt.out.Error("Failed to write captcha: %v\n", werr)
		} else {
			rt.out.Error("Captcha written to %s\n", captchaOut)
		}
	}
	rt.out.Error("Solve the challenge, then retry with -hv-token %s\n", hv.Token)
}

func (c *LoginCommand) Description() string {
	return "Log in with SRP and print the account"
}

func (c *LoginCommand) Help() string {
	return `Login Command - Authenticate with username and password

Usage:
  srpauth login [options] [--section.key=value ...]

The password is read without echo from the terminal, or as one line from
stdin when it is not a terminal. A TOTP code is prompted for when the
account has two-factor authentication enabled.

Examples:
  srpauth login -u alice
  srpauth login -u alice -totp 123456 --store.type=redis
  printf 'secret\n' | srpauth login -u alice -logout

Exit codes:
  2  invalid credentials
  3  human verification required
  4  second factor required or rejected
`
}

// printUser fetches and prints the authenticated account.
func printUser(ctx context.Context, rt *runtime, sess *session.Session) error {
	user, err := rt.dispatcher(sess).GetUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch user: %w", err)
	}

	rt.out.Print("Logged in as %s", user.Name)
	if user.Email != "" {
		rt.out.Print(" <%s>", user.Email)
	}
	rt.out.Print("\n")
	rt.out.Print("  User ID: %s\n", user.ID)
	rt.out.Print("  UID:     %s\n", sess.UID())
	if exp, ok := sess.ExpiresAt(); ok {
		rt.out.Print("  Expires: %s\n", exp.Format("2006-01-02 15:04:05"))
	}
	return nil
}
