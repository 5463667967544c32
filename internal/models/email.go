package models

import (
	"strings"
	"time"
)

// Direction tells whether a message left through the dispatcher or arrived in a mailbox.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// EmailType classifies a message by the flow that produced it.
type EmailType string

const (
	EmailTypeBulk                EmailType = "bulk"
	EmailTypeOTP                 EmailType = "otp"
	EmailTypeMeetingInvite       EmailType = "meeting-invite"
	EmailTypeMeetingReminder     EmailType = "meeting-reminder"
	EmailTypeMeetingCancellation EmailType = "meeting-cancellation"
	EmailTypeUserInvitation      EmailType = "user-invitation"
	EmailTypeTest                EmailType = "test"
	EmailTypeManual              EmailType = "manual"
	EmailTypeReply               EmailType = "reply"
	EmailTypeOther               EmailType = "other"
)

var validEmailTypes = map[EmailType]struct{}{
	EmailTypeBulk: {}, EmailTypeOTP: {}, EmailTypeMeetingInvite: {}, EmailTypeMeetingReminder: {},
	EmailTypeMeetingCancellation: {}, EmailTypeUserInvitation: {}, EmailTypeTest: {},
	EmailTypeManual: {}, EmailTypeReply: {}, EmailTypeOther: {},
}

// Valid reports whether t is one of the known classifications.
func (t EmailType) Valid() bool {
	_, ok := validEmailTypes[t]
	return ok
}

// Status is the delivery lifecycle state of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusBounced   Status = "bounced"
	StatusReplied   Status = "replied"
	StatusReceived  Status = "received"
)

// SMTPMode is the delivery identity an outbound message used.
type SMTPMode string

const (
	SMTPModeFree    SMTPMode = "free"
	SMTPModePremium SMTPMode = "premium"
)

// Address is a single mailbox with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Normalize trims the address and lower-cases the mailbox part so lookups are case-insensitive.
func (a Address) Normalize() Address {
	return Address{
		Email: strings.ToLower(strings.TrimSpace(a.Email)),
		Name:  strings.TrimSpace(a.Name),
	}
}

// NormalizeAddresses normalizes every entry and drops empty ones, keeping order.
func NormalizeAddresses(addresses []Address) []Address {
	result := make([]Address, 0, len(addresses))
	for _, address := range addresses {
		normalized := address.Normalize()
		if normalized.Email != "" {
			result = append(result, normalized)
		}
	}
	return result
}

// Message is one tracked email, sent or received, owned by a tenant.
type Message struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	UserID     string         `json:"user_id,omitempty"`
	MessageID  string         `json:"message_id"`
	Direction  Direction      `json:"direction"`
	From       Address        `json:"from"`
	To         []Address      `json:"to"`
	CC         []Address      `json:"cc"`
	BCC        []Address      `json:"bcc"`
	Subject    string         `json:"subject"`
	BodyText   string         `json:"body_text"`
	BodyHTML   string         `json:"body_html"`
	InReplyTo  *string        `json:"in_reply_to,omitempty"`
	References []string       `json:"references"`
	ThreadID   string         `json:"thread_id"`
	EmailType  EmailType      `json:"email_type"`
	RelatedTo  *RelatedEntity `json:"related_to,omitempty"`

	Status    Status    `json:"status"`
	IsOpened  bool      `json:"is_opened"`
	IsReplied bool      `json:"is_replied"`
	IsRead    bool      `json:"is_read"`
	IsDeleted bool      `json:"is_deleted"`
	SMTPMode  *SMTPMode `json:"smtp_mode,omitempty"`

	SentAt      time.Time  `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
	RepliedAt   *time.Time `json:"replied_at,omitempty"`

	IMAPUID    *int64  `json:"imap_uid,omitempty"`
	IMAPFolder *string `json:"imap_folder,omitempty"`

	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// HasParent reports whether the message declares the message it replies to.
func (m *Message) HasParent() bool {
	return m.InReplyTo != nil && *m.InReplyTo != ""
}

// Attachment is metadata only. Content is never persisted.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentID   string `json:"content_id,omitempty"`
}

// NormalizeMessageID strips whitespace and the surrounding angle brackets of a Message-ID header.
func NormalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "<")
	value = strings.TrimSuffix(value, ">")
	return strings.TrimSpace(value)
}

// ParseReferences splits a References header into normalized message IDs, keeping order.
func ParseReferences(header string) []string {
	fields := strings.Fields(header)
	result := make([]string, 0, len(fields))
	for _, field := range fields {
		if id := NormalizeMessageID(field); id != "" {
			result = append(result, id)
		}
	}
	return result
}
