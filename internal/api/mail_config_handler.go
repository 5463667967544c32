package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/crypto"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/imap"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SMTPVerifier checks SMTP credentials. *mailer.Dispatcher satisfies it.
type SMTPVerifier interface {
	VerifyCredentials(ctx context.Context, host string, port int, username, password string) error
}

// CredentialVerifier checks both endpoints of a premium mailbox before it is stored as verified.
type CredentialVerifier interface {
	VerifySMTP(ctx context.Context, host string, port int, username, password string) error
	VerifyIMAP(ctx context.Context, creds imap.Credentials) error
}

// MailboxVerifier verifies SMTP through the dispatcher's transport and IMAP with a short-lived login.
type MailboxVerifier struct {
	smtp     SMTPVerifier
	imapOpts imap.Options
}

// NewMailboxVerifier creates a MailboxVerifier.
func NewMailboxVerifier(smtp SMTPVerifier, imapOpts imap.Options) *MailboxVerifier {
	return &MailboxVerifier{smtp: smtp, imapOpts: imapOpts}
}

// VerifySMTP implements CredentialVerifier.
func (v *MailboxVerifier) VerifySMTP(ctx context.Context, host string, port int, username, password string) error {
	return v.smtp.VerifyCredentials(ctx, host, port, username, password)
}

// VerifyIMAP implements CredentialVerifier.
func (v *MailboxVerifier) VerifyIMAP(_ context.Context, creds imap.Credentials) error {
	return imap.VerifyCredentials(creds, v.imapOpts)
}

// MailConfigHandler reads and saves the caller's mail identity.
type MailConfigHandler struct {
	pool     *pgxpool.Pool
	vault    *crypto.Vault
	verifier CredentialVerifier
	manager  ConnectionController
	log      zerolog.Logger
}

// NewMailConfigHandler creates a new MailConfigHandler instance.
func NewMailConfigHandler(pool *pgxpool.Pool, vault *crypto.Vault, verifier CredentialVerifier, manager ConnectionController, log zerolog.Logger) *MailConfigHandler {
	return &MailConfigHandler{
		pool:     pool,
		vault:    vault,
		verifier: verifier,
		manager:  manager,
		log:      log.With().Str("handler", "mail_config").Logger(),
	}
}

// GetMailConfig returns the caller's config with the password masked.
func (h *MailConfigHandler) GetMailConfig(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	cfg, err := db.GetMailConfig(r.Context(), h.pool, identity.UserID)
	if errors.Is(err, db.ErrMailConfigNotFound) || (err == nil && cfg.TenantID != identity.TenantID) {
		http.Error(w, "Mail config not found for this user", http.StatusNotFound)
		return
	}
	if err != nil {
		internalError(w, h.log, err, "failed to get mail config")
		return
	}

	writeJSON(w, h.log, http.StatusOK, toMailConfigResponse(cfg))
}

// PutMailConfig saves the caller's config. A premium mailbox is verified against both servers first,
// then the user's live connection is restarted with the new credentials or stopped.
func (h *MailConfigHandler) PutMailConfig(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req models.MailConfigRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	existing, err := db.GetMailConfig(ctx, h.pool, identity.UserID)
	switch {
	case errors.Is(err, db.ErrMailConfigNotFound):
		existing = nil
	case err != nil:
		internalError(w, h.log, err, "failed to get mail config")
		return
	case existing.TenantID != identity.TenantID:
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	cfg := &models.UserMailConfig{
		UserID:       identity.UserID,
		TenantID:     identity.TenantID,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		ReplyTo:      strings.TrimSpace(req.ReplyTo),
		Signature:    req.Signature,
		IsConfigured: true,
		IsPremium:    req.IsPremium,
	}
	if existing != nil {
		cfg.Premium = existing.Premium
	}

	var creds imap.Credentials
	if req.IsPremium {
		premium, verified, status, err := h.preparePremium(ctx, req, existing)
		if err != nil {
			http.Error(w, err.Error(), status)
			return
		}
		cfg.Premium = premium
		creds = verified
	}

	if err := db.SaveMailConfig(ctx, h.pool, cfg); err != nil {
		internalError(w, h.log, err, "failed to save mail config")
		return
	}

	if cfg.HasVerifiedPremium() {
		h.manager.Restart(cfg.UserID, cfg.TenantID, creds)
	} else {
		h.manager.StopForUser(cfg.UserID)
	}

	h.log.Info().Str("user_id", cfg.UserID).Bool("premium", cfg.IsPremium).Msg("mail config saved")
	writeJSON(w, h.log, http.StatusOK, toMailConfigResponse(cfg))
}

// preparePremium validates the request, verifies the mailbox and returns it with the password in stored form.
// The returned error message is safe to show to the caller.
func (h *MailConfigHandler) preparePremium(ctx context.Context, req models.MailConfigRequest, existing *models.UserMailConfig) (models.PremiumMailbox, imap.Credentials, int, error) {
	premium := models.PremiumMailbox{
		SMTPHost:    strings.TrimSpace(req.SMTPHost),
		SMTPPort:    req.SMTPPort,
		IMAPHost:    strings.TrimSpace(req.IMAPHost),
		IMAPPort:    req.IMAPPort,
		Username:    strings.TrimSpace(req.Username),
		FromAddress: strings.TrimSpace(req.FromAddress),
	}
	if premium.SMTPHost == "" || premium.SMTPPort <= 0 || premium.IMAPHost == "" || premium.IMAPPort <= 0 || premium.Username == "" {
		return premium, imap.Credentials{}, http.StatusBadRequest, errors.New("premium mailbox requires smtp_host, smtp_port, imap_host, imap_port and username")
	}
	if premium.FromAddress == "" {
		premium.FromAddress = premium.Username
	}

	password := req.Password
	if password == "" || password == crypto.MaskedPassword {
		if existing == nil || existing.Premium.EncryptedPassword == "" {
			return premium, imap.Credentials{}, http.StatusBadRequest, errors.New("password is required")
		}
		stored, err := h.vault.EnsureEncrypted(existing.Premium.EncryptedPassword)
		if err != nil {
			return premium, imap.Credentials{}, http.StatusInternalServerError, errors.New("failed to store password")
		}
		password, err = h.vault.Decrypt(stored)
		if err != nil {
			return premium, imap.Credentials{}, http.StatusBadRequest, errors.New("stored password is unreadable, please enter it again")
		}
		premium.EncryptedPassword = stored
	} else {
		encrypted, err := h.vault.Encrypt(password)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to encrypt mailbox password")
			return premium, imap.Credentials{}, http.StatusInternalServerError, errors.New("failed to store password")
		}
		premium.EncryptedPassword = encrypted
	}

	if err := h.verifier.VerifySMTP(ctx, premium.SMTPHost, premium.SMTPPort, premium.Username, password); err != nil {
		h.log.Info().Err(err).Str("host", premium.SMTPHost).Msg("SMTP verification failed")
		return premium, imap.Credentials{}, http.StatusUnprocessableEntity, fmt.Errorf("SMTP verification failed: %v", err)
	}

	creds := imap.Credentials{Host: premium.IMAPHost, Port: premium.IMAPPort, Username: premium.Username, Password: password}
	if err := h.verifier.VerifyIMAP(ctx, creds); err != nil {
		h.log.Info().Err(err).Str("host", premium.IMAPHost).Msg("IMAP verification failed")
		return premium, imap.Credentials{}, http.StatusUnprocessableEntity, fmt.Errorf("IMAP verification failed: %v", err)
	}

	premium.IsVerified = true
	return premium, creds, http.StatusOK, nil
}

func toMailConfigResponse(cfg *models.UserMailConfig) models.MailConfigResponse {
	response := models.MailConfigResponse{
		DisplayName:  cfg.DisplayName,
		ReplyTo:      cfg.ReplyTo,
		Signature:    cfg.Signature,
		IsConfigured: cfg.IsConfigured,
		IsPremium:    cfg.IsPremium,
		SMTPHost:     cfg.Premium.SMTPHost,
		SMTPPort:     cfg.Premium.SMTPPort,
		IMAPHost:     cfg.Premium.IMAPHost,
		IMAPPort:     cfg.Premium.IMAPPort,
		Username:     cfg.Premium.Username,
		FromAddress:  cfg.Premium.FromAddress,
		IsVerified:   cfg.Premium.IsVerified,
	}
	if cfg.Premium.EncryptedPassword != "" {
		response.Password = crypto.MaskedPassword
	}
	return response
}
