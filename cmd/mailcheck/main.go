// Command mailcheck verifies a premium mailbox the same way the service does before storing it,
// then prints what the IMAP server supports.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/imap"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/mailer"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Getenv, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "mailcheck: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	imapHost string
	imapPort int
	smtpHost string
	smtpPort int
	username string
	password string
	insecure bool
	timeout  time.Duration
}

// parseOptions reads flags. The password only comes from MAILCHECK_PASSWORD so it stays out of shell history.
func parseOptions(args []string, getenv func(string) string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("mailcheck", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.imapHost, "imap-host", "", "IMAP server host")
	fs.IntVar(&opts.imapPort, "imap-port", 993, "IMAP server port")
	fs.StringVar(&opts.smtpHost, "smtp-host", "", "SMTP server host (skipped when empty)")
	fs.IntVar(&opts.smtpPort, "smtp-port", 587, "SMTP server port")
	fs.StringVar(&opts.username, "user", "", "mailbox username")
	fs.BoolVar(&opts.insecure, "insecure", false, "connect without TLS")
	fs.DurationVar(&opts.timeout, "timeout", 15*time.Second, "connect timeout")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	opts.password = getenv("MAILCHECK_PASSWORD")

	var missing []string
	if opts.imapHost == "" {
		missing = append(missing, "-imap-host")
	}
	if opts.username == "" {
		missing = append(missing, "-user")
	}
	if opts.password == "" {
		missing = append(missing, "MAILCHECK_PASSWORD")
	}
	if len(missing) > 0 {
		return opts, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}

	return opts, nil
}

func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	opts, err := parseOptions(args, getenv)
	if err != nil {
		return err
	}

	imapOpts := imap.DefaultOptions()
	imapOpts.UseTLS = !opts.insecure
	imapOpts.ConnectTimeout = opts.timeout

	creds := imap.Credentials{Host: opts.imapHost, Port: opts.imapPort, Username: opts.username, Password: opts.password}

	fmt.Fprintf(out, "IMAP %s as %s\n", creds.Address(), opts.username)
	probe, err := imap.Probe(creds, imapOpts)
	if err != nil {
		return fmt.Errorf("IMAP check failed: %w", err)
	}

	fmt.Fprintf(out, "  login: ok\n")
	fmt.Fprintf(out, "  capabilities: %s\n", strings.Join(probe.Capabilities, " "))
	fmt.Fprintf(out, "  IDLE: %s\n", yesNo(probe.SupportsIdle))
	fmt.Fprintf(out, "  SORT: %s\n", yesNo(probe.SupportsSort))
	fmt.Fprintf(out, "  INBOX: %d messages, %d unseen, next UID %d\n", probe.Messages, probe.Unseen, probe.UidNext)

	if !probe.SupportsIdle {
		fmt.Fprintf(out, "  warning: no IDLE, new mail will only arrive through keepalive polling\n")
	}

	if opts.smtpHost == "" {
		return nil
	}

	endpoint := mailer.Endpoint{Host: opts.smtpHost, Port: opts.smtpPort, Username: opts.username, Password: opts.password}
	fmt.Fprintf(out, "SMTP %s as %s\n", endpoint.Address(), opts.username)

	transport := mailer.NewSMTPTransport(opts.timeout, opts.timeout, opts.insecure)
	if err := transport.Verify(ctx, endpoint); err != nil {
		return fmt.Errorf("SMTP check failed: %w", err)
	}
	fmt.Fprintf(out, "  login: ok\n")

	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
