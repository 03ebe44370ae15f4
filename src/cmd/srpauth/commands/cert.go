// FILE: srpauth/src/cmd/srpauth/commands/cert.go
package commands

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"srpauth/src/internal/tls"
)

// CertCommand generates a self-signed certificate for the test server.
type CertCommand struct {
	output io.Writer
	errOut io.Writer
}

func NewCertCommand() *CertCommand {
	return &CertCommand{
		output: os.Stdout,
		errOut: os.Stderr,
	}
}

func (c *CertCommand) Execute(args []string) error {
	cmd := flag.NewFlagSet("cert", flag.ContinueOnError)
	cmd.SetOutput(c.errOut)

	var (
		commonName = cmd.String("cn", "localhost", "Common name")
		hosts      = cmd.String("hosts", "localhost,127.0.0.1", "Comma-separated hostnames/IPs")
		validDays  = cmd.Int("days", 365, "Validity period in days")
		certOut    = cmd.String("cert-out", "", "Output certificate file (required)")
		keyOut     = cmd.String("key-out", "", "Output key file (required)")
	)

	cmd.Usage = func() {
		fmt.Fprint(c.errOut, c.Help())
		fmt.Fprintln(c.errOut, "Options:")
		cmd.PrintDefaults()
	}

	if err := cmd.Parse(args); err != nil {
		return err
	}
	if cmd.NArg() > 0 {
		return fmt.Errorf("unexpected argument(s): %s", strings.Join(cmd.Args(), " "))
	}
	if *certOut == "" || *keyOut == "" {
		cmd.Usage()
		return fmt.Errorf("both --cert-out and --key-out are required")
	}
	if *validDays < 1 || *validDays > 3650 {
		return fmt.Errorf("invalid validity period: %d days (valid: 1-3650)", *validDays)
	}

	pair, err := tls.GenerateSelfSigned(tls.CertRequest{
		CommonName: *commonName,
		Hosts:      *hosts,
		ValidFor:   time.Duration(*validDays) * 24 * time.Hour,
	})
	if err != nil {
		return err
	}
	if err := pair.WriteFiles(*certOut, *keyOut); err != nil {
		return err
	}

	fmt.Fprintf(c.output, "Generated self-signed certificate:\n")
	fmt.Fprintf(c.output, "  Certificate: %s\n", *certOut)
	fmt.Fprintf(c.output, "  Private key: %s\n", *keyOut)
	fmt.Fprintf(c.output, "  Valid for:   %d days\n", *validDays)
	fmt.Fprintf(c.output, "  Hosts:       %s\n", *hosts)
	return nil
}

func (c *CertCommand) Description() string {
	return "Generate a self-signed TLS certificate"
}

func (c *CertCommand) Help() string {
	return `Cert Command - Generate a self-signed certificate for the test server

Usage:
  srpauth cert --cert-out <file> --key-out <file> [options]

Examples:
  srpauth cert --cert-out server.crt --key-out server.key
  srpauth cert --cn auth.test --hosts auth.test,10.0.0.5 --days 30 \
               --cert-out server.crt --key-out server.key
`
}
