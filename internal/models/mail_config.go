package models

import (
	"time"
)

// PremiumMailbox holds the tenant-owned mailbox used for premium delivery and ingestion.
// EncryptedPassword is always in the vault's stored form.
type PremiumMailbox struct {
	SMTPHost          string `json:"smtp_host"`
	SMTPPort          int    `json:"smtp_port"`
	IMAPHost          string `json:"imap_host"`
	IMAPPort          int    `json:"imap_port"`
	Username          string `json:"username"`
	EncryptedPassword string `json:"-"`
	FromAddress       string `json:"from_address"`
	IsVerified        bool   `json:"is_verified"`
}

// UserMailConfig is the per-user mail identity. There is at most one per user.
type UserMailConfig struct {
	UserID       string         `json:"user_id"`
	TenantID     string         `json:"tenant_id"`
	DisplayName  string         `json:"display_name"`
	ReplyTo      string         `json:"reply_to"`
	Signature    string         `json:"signature"`
	IsConfigured bool           `json:"is_configured"`
	IsPremium    bool           `json:"is_premium"`
	Premium      PremiumMailbox `json:"premium"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// HasVerifiedPremium reports whether the premium mailbox may be used.
func (c *UserMailConfig) HasVerifiedPremium() bool {
	return c.IsPremium && c.Premium.IsVerified && c.Premium.EncryptedPassword != ""
}

// MailConfigRequest is the payload for saving a user's mail config.
// An empty or masked Password keeps the stored one.
type MailConfigRequest struct {
	DisplayName string `json:"display_name"`
	ReplyTo     string `json:"reply_to"`
	Signature   string `json:"signature"`
	IsPremium   bool   `json:"is_premium"`
	SMTPHost    string `json:"smtp_host"`
	SMTPPort    int    `json:"smtp_port"`
	IMAPHost    string `json:"imap_host"`
	IMAPPort    int    `json:"imap_port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	FromAddress string `json:"from_address"`
}

// MailConfigResponse is the external view of a mail config. Password is always masked.
type MailConfigResponse struct {
	DisplayName  string `json:"display_name"`
	ReplyTo      string `json:"reply_to"`
	Signature    string `json:"signature"`
	IsConfigured bool   `json:"is_configured"`
	IsPremium    bool   `json:"is_premium"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	FromAddress  string `json:"from_address"`
	IsVerified   bool   `json:"is_verified"`
}
