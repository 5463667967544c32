// Package mailer sends outbound mail through either the tenant's own mailbox or the shared relay.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/crypto"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/events"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrNoRecipients is returned when a send names no valid recipient.
	ErrNoRecipients = errors.New("no recipients")
	// ErrInvalidAddress is returned when a recipient is not a valid email address.
	ErrInvalidAddress = errors.New("invalid email address")

	errBulkPanic = errors.New("internal error while sending")
)

// Attachment is a file sent with a message. Only its metadata is recorded.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

func (a Attachment) contentType() string {
	if a.ContentType == "" {
		return "application/octet-stream"
	}
	return a.ContentType
}

// OutboundEmail is a message a user asks to send.
type OutboundEmail struct {
	To          []models.Address      `json:"to"`
	CC          []models.Address      `json:"cc"`
	BCC         []models.Address      `json:"bcc"`
	Subject     string                `json:"subject"`
	Text        string                `json:"text"`
	HTML        string                `json:"html"`
	Attachments []Attachment          `json:"attachments"`
	InReplyTo   string                `json:"in_reply_to"`
	References  []string              `json:"references"`
	EmailType   models.EmailType      `json:"email_type"`
	RelatedTo   *models.RelatedEntity `json:"related_to"`
}

// SendResult reports how a message left.
type SendResult struct {
	MessageID string          `json:"message_id"`
	ThreadID  string          `json:"thread_id,omitempty"`
	Mode      models.SMTPMode `json:"mode"`
}

// EmailSentEvent is the payload published after a successful send.
type EmailSentEvent struct {
	UserID    string          `json:"user_id"`
	MessageID string          `json:"message_id"`
	ThreadID  string          `json:"thread_id,omitempty"`
	Subject   string          `json:"subject"`
	To        []string        `json:"to"`
	Mode      models.SMTPMode `json:"mode"`
}

// Recorder stores sent messages so replies can be threaded against them.
// *tracking.Ingestor satisfies it.
type Recorder interface {
	RecordSent(ctx context.Context, msg *models.Message) (bool, error)
}

// Entitlements decides whether a tenant may use premium delivery.
// *entitlement.Guard satisfies it.
type Entitlements interface {
	IsPremium(ctx context.Context, tenantID string) bool
}

// SharedRelay is the system identity used for free-mode delivery.
type SharedRelay struct {
	Endpoint    Endpoint
	FromAddress string
}

// Dispatcher selects a delivery identity, builds the message, sends it and records it.
type Dispatcher struct {
	transport    Transport
	configs      db.MailConfigStore
	entitlements Entitlements
	vault        *crypto.Vault
	recorder     Recorder
	publisher    events.Publisher
	relay        SharedRelay
	bulkRate     rate.Limit
	log          zerolog.Logger
	now          func() time.Time
}

// Options wires the dispatcher's collaborators.
type Options struct {
	Transport    Transport
	Configs      db.MailConfigStore
	Entitlements Entitlements
	Vault        *crypto.Vault
	Recorder     Recorder
	Publisher    events.Publisher
	Relay        SharedRelay
	// BulkPerSecond caps bulk sends. Zero or less means unlimited.
	BulkPerSecond float64
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts Options, log zerolog.Logger) *Dispatcher {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	bulkRate := rate.Inf
	if opts.BulkPerSecond > 0 {
		bulkRate = rate.Limit(opts.BulkPerSecond)
	}

	return &Dispatcher{
		transport:    opts.Transport,
		configs:      opts.Configs,
		entitlements: opts.Entitlements,
		vault:        opts.Vault,
		recorder:     opts.Recorder,
		publisher:    publisher,
		relay:        opts.Relay,
		bulkRate:     bulkRate,
		log:          log.With().Str("component", "dispatcher").Logger(),
		now:          time.Now,
	}
}

// identity is the delivery route chosen for one send.
type identity struct {
	mode      models.SMTPMode
	endpoint  Endpoint
	from      models.Address
	replyTo   string
	signature string
}

// Send delivers one message and records it. Recording failures are logged and never fail the send.
func (d *Dispatcher) Send(ctx context.Context, userID, tenantID string, email OutboundEmail) (*SendResult, error) {
	env, err := prepareRecipients(email)
	if err != nil {
		return nil, err
	}

	id := d.selectIdentity(ctx, userID, tenantID)

	env.MessageID = newMessageID(id.from.Email)
	env.From = id.from
	env.ReplyTo = id.replyTo
	env.Subject = email.Subject
	env.Text, env.HTML = applySignature(email.Text, email.HTML, id.signature)
	env.InReplyTo = models.NormalizeMessageID(email.InReplyTo)
	env.References = normalizeReferences(email.References)
	env.Attachments = email.Attachments
	env.Date = d.now()

	raw, err := compose(env)
	if err != nil {
		return nil, err
	}

	if err := d.transport.Deliver(ctx, id.endpoint, id.from.Email, env.recipients(), raw); err != nil {
		d.log.Warn().Err(err).Str("user_id", userID).Str("mode", string(id.mode)).Msg("send failed")
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	result := &SendResult{MessageID: env.MessageID, Mode: id.mode}
	result.ThreadID = d.record(ctx, userID, tenantID, email, env, id.mode)

	d.publisher.Publish(tenantID, events.EmailSent, EmailSentEvent{
		UserID:    userID,
		MessageID: result.MessageID,
		ThreadID:  result.ThreadID,
		Subject:   env.Subject,
		To:        env.recipients(),
		Mode:      id.mode,
	})

	d.log.Info().Str("user_id", userID).Str("message_id", result.MessageID).Str("mode", string(id.mode)).Msg("email sent")
	return result, nil
}

// VerifyCredentials checks that the SMTP endpoint accepts the given login.
func (d *Dispatcher) VerifyCredentials(ctx context.Context, host string, port int, username, password string) error {
	return d.transport.Verify(ctx, Endpoint{Host: host, Port: port, Username: username, Password: password})
}

// selectIdentity picks premium delivery when the tenant is entitled and the user's verified
// mailbox password decrypts. Every other outcome is free mode through the shared relay.
func (d *Dispatcher) selectIdentity(ctx context.Context, userID, tenantID string) identity {
	cfg := d.loadConfig(ctx, userID, tenantID)

	free := identity{
		mode:     models.SMTPModeFree,
		endpoint: d.relay.Endpoint,
		from:     models.Address{Email: d.relay.FromAddress},
	}
	if cfg == nil {
		return free
	}

	free.from.Name = cfg.DisplayName
	free.replyTo = strings.TrimSpace(cfg.ReplyTo)
	free.signature = cfg.Signature

	if !cfg.HasVerifiedPremium() || d.entitlements == nil || d.vault == nil || !d.entitlements.IsPremium(ctx, tenantID) {
		return free
	}

	password, err := d.vault.Decrypt(cfg.Premium.EncryptedPassword)
	if err != nil {
		d.log.Warn().Err(err).Str("user_id", userID).Msg("premium password did not decrypt, using free mode")
		return free
	}

	from := cfg.Premium.FromAddress
	if from == "" {
		from = cfg.Premium.Username
	}

	return identity{
		mode: models.SMTPModePremium,
		endpoint: Endpoint{
			Host:     cfg.Premium.SMTPHost,
			Port:     cfg.Premium.SMTPPort,
			Username: cfg.Premium.Username,
			Password: password,
		},
		from:      models.Address{Email: from, Name: cfg.DisplayName},
		replyTo:   strings.TrimSpace(cfg.ReplyTo),
		signature: cfg.Signature,
	}
}

// loadConfig returns the user's config, or nil when it is missing, unreadable or owned by another tenant.
func (d *Dispatcher) loadConfig(ctx context.Context, userID, tenantID string) *models.UserMailConfig {
	if d.configs == nil || userID == "" {
		return nil
	}

	cfg, err := d.configs.GetMailConfig(ctx, userID)
	if err != nil {
		if !errors.Is(err, db.ErrMailConfigNotFound) {
			d.log.Warn().Err(err).Str("user_id", userID).Msg("failed to load mail config, using defaults")
		}
		return nil
	}
	if cfg.TenantID != tenantID {
		d.log.Warn().Str("user_id", userID).Str("tenant_id", tenantID).Msg("mail config belongs to another tenant, ignoring")
		return nil
	}
	return cfg
}

// record stores the sent message and returns its thread. Failures are logged only.
func (d *Dispatcher) record(ctx context.Context, userID, tenantID string, email OutboundEmail, env *envelope, mode models.SMTPMode) string {
	if d.recorder == nil {
		return ""
	}

	emailType := email.EmailType
	if !emailType.Valid() {
		emailType = models.EmailTypeManual
	}

	msg := &models.Message{
		TenantID:   tenantID,
		UserID:     userID,
		MessageID:  env.MessageID,
		From:       env.From,
		To:         env.To,
		CC:         env.CC,
		BCC:        env.BCC,
		Subject:    env.Subject,
		BodyText:   env.Text,
		BodyHTML:   env.HTML,
		References: env.References,
		EmailType:  emailType,
		RelatedTo:  email.RelatedTo,
		SMTPMode:   &mode,
		SentAt:     env.Date,
		IsRead:     true,
	}
	if env.InReplyTo != "" {
		inReplyTo := env.InReplyTo
		msg.InReplyTo = &inReplyTo
	}
	for _, attachment := range env.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename:    attachment.Filename,
			ContentType: attachment.contentType(),
			SizeBytes:   int64(len(attachment.Content)),
		})
	}

	if _, err := d.recorder.RecordSent(ctx, msg); err != nil {
		d.log.Error().Err(err).Str("message_id", env.MessageID).Msg("failed to record sent email")
		return ""
	}
	return msg.ThreadID
}

// prepareRecipients validates and normalizes the recipient lists.
func prepareRecipients(email OutboundEmail) (*envelope, error) {
	env := &envelope{}

	var err error
	if env.To, err = validAddresses(email.To); err != nil {
		return nil, err
	}
	if env.CC, err = validAddresses(email.CC); err != nil {
		return nil, err
	}
	if env.BCC, err = validAddresses(email.BCC); err != nil {
		return nil, err
	}

	if len(env.To)+len(env.CC)+len(env.BCC) == 0 {
		return nil, ErrNoRecipients
	}
	return env, nil
}

func validAddresses(addresses []models.Address) ([]models.Address, error) {
	normalized := models.NormalizeAddresses(addresses)
	for _, address := range normalized {
		if _, err := mail.ParseAddress(address.Email); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address.Email)
		}
	}
	return normalized, nil
}

func normalizeReferences(references []string) []string {
	result := make([]string, 0, len(references))
	for _, ref := range references {
		result = append(result, models.ParseReferences(ref)...)
	}
	return result
}
