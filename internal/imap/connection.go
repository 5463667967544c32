package imap

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/crypto"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"
)

// Credentials identifies one mailbox. Password is plaintext and must never be logged.
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Address returns host:port.
func (c Credentials) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MarshalZerologObject logs everything except the password.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("host", c.Host).Int("port", c.Port).Str("username", c.Username)
}

// CredentialsFromConfig decrypts the premium mailbox password of cfg.
func CredentialsFromConfig(cfg *models.UserMailConfig, vault *crypto.Vault) (Credentials, error) {
	if cfg == nil || !cfg.HasVerifiedPremium() {
		return Credentials{}, errors.New("no verified premium mailbox")
	}
	password, err := vault.Decrypt(cfg.Premium.EncryptedPassword)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to decrypt mailbox password: %w", err)
	}
	return Credentials{
		Host:     cfg.Premium.IMAPHost,
		Port:     cfg.Premium.IMAPPort,
		Username: cfg.Premium.Username,
		Password: password,
	}, nil
}

// dialOptions bound how a connection is opened.
type dialOptions struct {
	useTLS         bool
	connectTimeout time.Duration
	commandTimeout time.Duration
	keepalive      time.Duration
}

// connect dials and logs in. The dial and the login are both bounded.
// useTLS: true for production (TLS), false for tests (non-TLS).
func connect(creds Credentials, opts dialOptions) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout:   opts.connectTimeout,
		KeepAlive: opts.keepalive,
	}

	var (
		c   *client.Client
		err error
	)
	if opts.useTLS {
		c, err = client.DialWithDialerTLS(dialer, creds.Address(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
	} else {
		c, err = client.DialWithDialer(dialer, creds.Address())
		if err != nil {
			return nil, fmt.Errorf("failed to dial: %w", err)
		}
	}

	c.Timeout = opts.commandTimeout
	if err := c.Login(creds.Username, creds.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	return c, nil
}

// closeClient logs out, falling back to dropping the socket when the server does not answer.
func closeClient(c *client.Client, timeout time.Duration) {
	if c == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Logout()
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		_ = c.Terminate()
	}
}
