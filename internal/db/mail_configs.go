package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMailConfigNotFound is returned when a user has no mail config.
var ErrMailConfigNotFound = errors.New("mail config not found")

const mailConfigColumns = `
	user_id,
	tenant_id,
	display_name,
	reply_to,
	signature,
	is_configured,
	is_premium,
	smtp_host,
	smtp_port,
	imap_host,
	imap_port,
	username,
	encrypted_password,
	from_address,
	is_verified,
	created_at,
	updated_at`

// GetMailConfig returns the mail config of the given user.
func GetMailConfig(ctx context.Context, pool *pgxpool.Pool, userID string) (*models.UserMailConfig, error) {
	row := pool.QueryRow(ctx, `
		SELECT `+mailConfigColumns+`
		FROM user_mail_configs
		WHERE user_id = $1
	`, userID)

	cfg, err := scanMailConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMailConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mail config: %w", err)
	}

	return cfg, nil
}

// SaveMailConfig upserts the mail config of cfg.UserID.
// The caller must pass the password in stored (encrypted) form.
func SaveMailConfig(ctx context.Context, pool *pgxpool.Pool, cfg *models.UserMailConfig) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO user_mail_configs (
			user_id,
			tenant_id,
			display_name,
			reply_to,
			signature,
			is_configured,
			is_premium,
			smtp_host,
			smtp_port,
			imap_host,
			imap_port,
			username,
			encrypted_password,
			from_address,
			is_verified
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			display_name = EXCLUDED.display_name,
			reply_to = EXCLUDED.reply_to,
			signature = EXCLUDED.signature,
			is_configured = EXCLUDED.is_configured,
			is_premium = EXCLUDED.is_premium,
			smtp_host = EXCLUDED.smtp_host,
			smtp_port = EXCLUDED.smtp_port,
			imap_host = EXCLUDED.imap_host,
			imap_port = EXCLUDED.imap_port,
			username = EXCLUDED.username,
			encrypted_password = EXCLUDED.encrypted_password,
			from_address = EXCLUDED.from_address,
			is_verified = EXCLUDED.is_verified,
			updated_at = now()
	`,
		cfg.UserID,
		cfg.TenantID,
		cfg.DisplayName,
		cfg.ReplyTo,
		cfg.Signature,
		cfg.IsConfigured,
		cfg.IsPremium,
		cfg.Premium.SMTPHost,
		cfg.Premium.SMTPPort,
		cfg.Premium.IMAPHost,
		cfg.Premium.IMAPPort,
		cfg.Premium.Username,
		cfg.Premium.EncryptedPassword,
		cfg.Premium.FromAddress,
		cfg.Premium.IsVerified,
	)
	if err != nil {
		return fmt.Errorf("failed to save mail config: %w", err)
	}

	return nil
}

// ListEligibleMailConfigs returns every configured, verified premium mailbox.
// An empty tenantID lists all tenants.
func ListEligibleMailConfigs(ctx context.Context, pool *pgxpool.Pool, tenantID string) ([]*models.UserMailConfig, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+mailConfigColumns+`
		FROM user_mail_configs
		WHERE is_premium AND is_verified AND is_configured
			AND encrypted_password <> ''
			AND ($1 = '' OR tenant_id = $1)
		ORDER BY tenant_id, user_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mail configs: %w", err)
	}
	defer rows.Close()

	configs := make([]*models.UserMailConfig, 0)
	for rows.Next() {
		cfg, err := scanMailConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mail config: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mail configs: %w", err)
	}

	return configs, nil
}

func scanMailConfig(row pgx.Row) (*models.UserMailConfig, error) {
	var cfg models.UserMailConfig
	err := row.Scan(
		&cfg.UserID,
		&cfg.TenantID,
		&cfg.DisplayName,
		&cfg.ReplyTo,
		&cfg.Signature,
		&cfg.IsConfigured,
		&cfg.IsPremium,
		&cfg.Premium.SMTPHost,
		&cfg.Premium.SMTPPort,
		&cfg.Premium.IMAPHost,
		&cfg.Premium.IMAPPort,
		&cfg.Premium.Username,
		&cfg.Premium.EncryptedPassword,
		&cfg.Premium.FromAddress,
		&cfg.Premium.IsVerified,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
