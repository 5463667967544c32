package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
)

// implicitTLSPort is the SMTP submission port that expects TLS from the first byte.
const implicitTLSPort = 465

// Endpoint is an SMTP server plus the account used to authenticate against it.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// MarshalZerologObject logs the endpoint without its password.
func (e Endpoint) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("host", e.Host).Int("port", e.Port).Str("username", e.Username)
}

// Transport hands a fully built message to a mail server.
// This allows the dispatcher to be tested without a network.
type Transport interface {
	Deliver(ctx context.Context, endpoint Endpoint, from string, recipients []string, raw []byte) error
	Verify(ctx context.Context, endpoint Endpoint) error
}

// SMTPTransport delivers over SMTP with PLAIN auth.
// Port 465 uses implicit TLS, every other port requires STARTTLS unless Insecure is set.
type SMTPTransport struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	// Insecure talks plain SMTP. Only the dev server and tests set it.
	Insecure bool
}

// NewSMTPTransport creates an SMTPTransport.
func NewSMTPTransport(connectTimeout, commandTimeout time.Duration, insecure bool) *SMTPTransport {
	return &SMTPTransport{
		ConnectTimeout: connectTimeout,
		CommandTimeout: commandTimeout,
		Insecure:       insecure,
	}
}

// Deliver implements Transport.
func (t *SMTPTransport) Deliver(ctx context.Context, endpoint Endpoint, from string, recipients []string, raw []byte) error {
	c, err := t.open(ctx, endpoint)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()

	if err := c.SendMail(from, recipients, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	if err := c.Quit(); err != nil {
		return fmt.Errorf("failed to quit: %w", err)
	}
	return nil
}

// Verify implements Transport. It connects and authenticates, then hangs up.
func (t *SMTPTransport) Verify(ctx context.Context, endpoint Endpoint) error {
	c, err := t.open(ctx, endpoint)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()

	_ = c.Quit()
	return nil
}

// open dials, negotiates TLS and authenticates.
func (t *SMTPTransport) open(ctx context.Context, endpoint Endpoint) (*smtp.Client, error) {
	if endpoint.Host == "" || endpoint.Port <= 0 {
		return nil, fmt.Errorf("incomplete SMTP endpoint %q", endpoint.Address())
	}

	dialer := &net.Dialer{Timeout: t.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	tlsConfig := &tls.Config{ServerName: endpoint.Host, MinVersion: tls.VersionTLS12}

	var c *smtp.Client
	switch {
	case t.Insecure:
		c = smtp.NewClient(conn)
	case endpoint.Port == implicitTLSPort:
		c = smtp.NewClient(tls.Client(conn, tlsConfig))
	default:
		c, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if t.CommandTimeout > 0 {
		c.CommandTimeout = t.CommandTimeout
		c.SubmissionTimeout = t.CommandTimeout
	}

	if endpoint.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", endpoint.Username, endpoint.Password)); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	return c, nil
}
