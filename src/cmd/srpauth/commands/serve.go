// FILE: srpauth/src/cmd/srpauth/commands/serve.go
package commands

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"srpauth/src/internal/config"
	"srpauth/src/internal/testserver"
	"srpauth/src/internal/tls"
	"srpauth/src/internal/version"
)

// ServeCommand runs local protocol test servers until interrupted.
type ServeCommand struct {
	errOut io.Writer
}

func NewServeCommand() *ServeCommand {
	return &ServeCommand{errOut: os.Stderr}
}

func (c *ServeCommand) Execute(args []string) error {
	flagArgs, configArgs := splitArgs(args)

	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(c.errOut)

	var (
		count   = cmd.Int("count", 1, "Number of servers to start")
		certOut = cmd.String("cert-out", "", "Write the generated self-signed certificate here")
		quiet   = cmd.Bool("q", false, "Suppress output except errors")
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
	if *count < 1 {
		return fmt.Errorf("count must be at least 1")
	}

	cfg, err := config.Load(configArgs)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg.Logging, *quiet)
	if err != nil {
		return err
	}
	defer logger.Shutdown(2 * time.Second)
	out := NewOutputHandler(*quiet)

	tlsManager, err := tls.NewServerManager(cfg.TestServer.TLS, logger)
	if err != nil {
		return fmt.Errorf("failed to configure TLS: %w", err)
	}
	if pem := tlsManager.GeneratedCertPEM(); pem != nil && *certOut != "" {
		if err := os.WriteFile(*certOut, pem, 0o644); err != nil {
			return fmt.Errorf("failed to write certificate: %w", err)
		}
		out.Print("Self-signed certificate written to %s\n", *certOut)
	}

	opts, err := serverOptions(cfg.TestServer, *count)
	if err != nil {
		return err
	}
	opts.TLS = tlsManager.GetHTTPConfig()

	registry := testserver.NewRegistry(logger)
	defer registry.CloseAll()

	for i := 0; i < *count; i++ {
		handle, srv, err := registry.Spawn(opts)
		if err != nil {
			return fmt.Errorf("failed to start server %d: %w", i+1, err)
		}
		for _, u := range cfg.TestServer.Users {
			password := []byte(u.Password)
			userID, err := srv.CreateUser(u.Username, password, userOptions(u)...)
			zero(password)
			if err != nil {
				return fmt.Errorf("failed to create user %s: %w", u.Username, err)
			}
			logger.Debug("msg", "Test user created",
				"component", "serve",
				"handle", handle.String(),
				"username", u.Username,
				"user_id", userID)
		}
		out.Print("Server %s listening on %s (%d users)\n", handle, srv.URL(), len(cfg.TestServer.Users))
	}

	logger.Info("msg", "Test servers started",
		"component", "serve",
		"version", version.Short(),
		"count", registry.Len(),
		"tls", opts.TLS != nil)

	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	out.Print("Shutting down %d server(s)\n", registry.Len())
	logger.Info("msg", "Shutdown signal received", "component", "serve")
	return nil
}

// serverOptions maps the test_server section onto server options. Several
// servers cannot share a fixed port, so they listen on ephemeral ones.
func serverOptions(ts config.TestServerConfig, count int) (testserver.Options, error) {
	addr := ts.Addr
	if count > 1 {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return testserver.Options{}, fmt.Errorf("invalid addr '%s': %w", addr, err)
		}
		addr = net.JoinHostPort(host, "0")
	}
	return testserver.Options{
		Addr:           addr,
		PathPrefix:     ts.PathPrefix,
		Sequential:     ts.Sequential,
		AccessTokenTTL: ts.AccessTokenTTL(),
		ChallengeTTL:   ts.ChallengeTTL(),
		TwoFAWindow:    ts.TwoFAWindow(),
		MaxIdle:        ts.MaxIdle(),
		InfoRate:       ts.InfoRate,
		InfoBurst:      ts.InfoBurst,
	}, nil
}

func userOptions(u config.TestUserConfig) []testserver.UserOption {
	switch u.SecondFactor {
	case "totp":
		return []testserver.UserOption{testserver.WithTOTP(u.TOTP)}
	case "totp_or_fido2":
		return []testserver.UserOption{testserver.WithTOTPOrFIDO2(u.TOTP)}
	case "fido2":
		return []testserver.UserOption{testserver.WithFIDO2Only()}
	default:
		return nil
	}
}

func (c *ServeCommand) Description() string {
	return "Run local auth protocol test servers"
}

func (c *ServeCommand) Help() string {
	return `Serve Command - Run in-process auth protocol test servers

Usage:
  srpauth serve [options] [--section.key=value ...]

Users come from [[test_server.users]] in the config file. With
test_server.tls.enabled and no cert_file, a self-signed certificate is
generated; use -cert-out to hand it to clients as api.tls.server_ca_file.

Examples:
  srpauth serve
  srpauth serve -count 3 --test_server.sequential=true
  srpauth serve --test_server.tls.enabled=true -cert-out /tmp/srpauth-ca.pem
`
}
