package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `
	id,
	tenant_id,
	user_id,
	message_id,
	direction,
	from_address,
	to_addresses,
	cc_addresses,
	bcc_addresses,
	subject,
	body_text,
	body_html,
	in_reply_to,
	"references",
	thread_id,
	email_type,
	related_type,
	related_id,
	status,
	is_opened,
	is_replied,
	is_read,
	is_deleted,
	smtp_mode,
	sent_at,
	delivered_at,
	opened_at,
	replied_at,
	imap_uid,
	imap_folder,
	attachments,
	created_at,
	updated_at`

// CreateMessage inserts message unless a row with the same (message_id, tenant_id) exists.
// On conflict the existing row is loaded into message and created is false.
func CreateMessage(ctx context.Context, pool *pgxpool.Pool, message *models.Message) (created bool, err error) {
	var relatedType, relatedID *string
	if message.RelatedTo != nil {
		t := string(message.RelatedTo.Type)
		relatedType = &t
		relatedID = &message.RelatedTo.ID
	}

	var smtpMode *string
	if message.SMTPMode != nil {
		m := string(*message.SMTPMode)
		smtpMode = &m
	}

	if message.SentAt.IsZero() {
		message.SentAt = time.Now().UTC()
	}

	row := pool.QueryRow(ctx, `
		INSERT INTO emails (
			tenant_id,
			user_id,
			message_id,
			direction,
			from_address,
			to_addresses,
			cc_addresses,
			bcc_addresses,
			subject,
			body_text,
			body_html,
			in_reply_to,
			"references",
			thread_id,
			email_type,
			related_type,
			related_id,
			status,
			is_read,
			smtp_mode,
			sent_at,
			imap_uid,
			imap_folder,
			attachments
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (message_id, tenant_id) DO NOTHING
		RETURNING `+messageColumns,
		message.TenantID,
		message.UserID,
		message.MessageID,
		string(message.Direction),
		message.From,
		nonNilAddresses(message.To),
		nonNilAddresses(message.CC),
		nonNilAddresses(message.BCC),
		message.Subject,
		message.BodyText,
		message.BodyHTML,
		message.InReplyTo,
		nonNilStrings(message.References),
		message.ThreadID,
		string(message.EmailType),
		relatedType,
		relatedID,
		string(message.Status),
		message.IsRead,
		smtpMode,
		message.SentAt,
		message.IMAPUID,
		message.IMAPFolder,
		nonNilAttachments(message.Attachments),
	)

	stored, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := GetMessageByMessageID(ctx, pool, message.TenantID, message.MessageID)
		if getErr != nil {
			return false, fmt.Errorf("failed to load existing message: %w", getErr)
		}
		*message = *existing
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create message: %w", err)
	}

	*message = *stored
	return true, nil
}

// GetMessageByMessageID returns the message with the given protocol Message-ID in the tenant.
// Soft-deleted messages are returned too, since they still anchor threads.
func GetMessageByMessageID(ctx context.Context, pool *pgxpool.Pool, tenantID, messageID string) (*models.Message, error) {
	row := pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM emails
		WHERE tenant_id = $1 AND message_id = $2
	`, tenantID, messageID)

	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

// GetMessageByID returns a non-deleted message by its surrogate ID.
func GetMessageByID(ctx context.Context, pool *pgxpool.Pool, tenantID, id string) (*models.Message, error) {
	row := pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM emails
		WHERE tenant_id = $1 AND id = $2 AND NOT is_deleted
	`, tenantID, id)

	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

// ListThreadMessages returns the non-deleted messages of a thread, oldest first.
func ListThreadMessages(ctx context.Context, pool *pgxpool.Pool, tenantID, threadID string) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM emails
		WHERE tenant_id = $1 AND thread_id = $2 AND NOT is_deleted
		ORDER BY sent_at ASC, created_at ASC
	`, tenantID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread messages: %w", err)
	}

	return collectMessages(rows)
}

// ListRelatedMessages returns the non-deleted messages linked to a business entity, newest first.
func ListRelatedMessages(ctx context.Context, pool *pgxpool.Pool, tenantID string, related models.RelatedEntity) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM emails
		WHERE tenant_id = $1 AND related_type = $2 AND related_id = $3 AND NOT is_deleted
		ORDER BY sent_at DESC
	`, tenantID, string(related.Type), related.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get related messages: %w", err)
	}

	return collectMessages(rows)
}

// MarkReplied records that a reply to the message arrived at repliedAt.
func MarkReplied(ctx context.Context, pool *pgxpool.Pool, id string, repliedAt time.Time) error {
	tag, err := pool.Exec(ctx, `
		UPDATE emails
		SET status = 'replied', is_replied = TRUE, replied_at = $2, updated_at = now()
		WHERE id = $1
	`, id, repliedAt)
	if err != nil {
		return fmt.Errorf("failed to mark message replied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkRead sets the read flag of a message.
func MarkRead(ctx context.Context, pool *pgxpool.Pool, tenantID, id string) error {
	return updateFlag(ctx, pool, `UPDATE emails SET is_read = TRUE, updated_at = now() WHERE tenant_id = $1 AND id = $2 AND NOT is_deleted`, tenantID, id)
}

// SoftDeleteMessage hides a message. Rows are never removed.
func SoftDeleteMessage(ctx context.Context, pool *pgxpool.Pool, tenantID, id string) error {
	return updateFlag(ctx, pool, `UPDATE emails SET is_deleted = TRUE, updated_at = now() WHERE tenant_id = $1 AND id = $2 AND NOT is_deleted`, tenantID, id)
}

// MarkOpened records the first open of a sent message.
func MarkOpened(ctx context.Context, pool *pgxpool.Pool, tenantID, id string) error {
	return updateFlag(ctx, pool, `
		UPDATE emails
		SET is_opened = TRUE, opened_at = COALESCE(opened_at, now()), updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND NOT is_deleted
	`, tenantID, id)
}

// UpdateDeliveryStatus moves a sent message to delivered, failed or bounced.
func UpdateDeliveryStatus(ctx context.Context, pool *pgxpool.Pool, tenantID, id string, status models.Status) error {
	switch status {
	case models.StatusDelivered, models.StatusFailed, models.StatusBounced:
	default:
		return fmt.Errorf("invalid delivery status %q", status)
	}

	tag, err := pool.Exec(ctx, `
		UPDATE emails
		SET status = $3,
			delivered_at = CASE WHEN $3 = 'delivered' THEN now() ELSE delivered_at END,
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND direction = 'sent' AND NOT is_deleted
	`, tenantID, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update delivery status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// SentMessageExists reports whether the tenant sent a message with the given Message-ID.
func SentMessageExists(ctx context.Context, pool *pgxpool.Pool, tenantID, messageID string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM emails
			WHERE tenant_id = $1 AND message_id = $2 AND direction = 'sent'
		)
	`, tenantID, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check sent message: %w", err)
	}
	return exists, nil
}

// SentMessageExistsAny reports whether the tenant sent any of the given Message-IDs.
func SentMessageExistsAny(ctx context.Context, pool *pgxpool.Pool, tenantID string, messageIDs []string) (bool, error) {
	if len(messageIDs) == 0 {
		return false, nil
	}

	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM emails
			WHERE tenant_id = $1 AND message_id = ANY($2) AND direction = 'sent'
		)
	`, tenantID, messageIDs).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check referenced messages: %w", err)
	}
	return exists, nil
}

// SentToCorrespondent reports whether the tenant sent a message with address in its to or cc list.
// A zero since scans the whole history.
func SentToCorrespondent(ctx context.Context, pool *pgxpool.Pool, tenantID, address string, since time.Time) (bool, error) {
	needle, err := json.Marshal([]map[string]string{{"email": address}})
	if err != nil {
		return false, fmt.Errorf("failed to encode address: %w", err)
	}

	var sinceParam *time.Time
	if !since.IsZero() {
		sinceParam = &since
	}

	var exists bool
	err = pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM emails
			WHERE tenant_id = $1
				AND direction = 'sent'
				AND (to_addresses @> $2::jsonb OR cc_addresses @> $2::jsonb)
				AND ($3::timestamptz IS NULL OR sent_at >= $3)
		)
	`, tenantID, string(needle), sinceParam).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check correspondent: %w", err)
	}
	return exists, nil
}

func updateFlag(ctx context.Context, pool *pgxpool.Pool, query, tenantID, id string) error {
	tag, err := pool.Exec(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func collectMessages(rows pgx.Rows) ([]*models.Message, error) {
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		msg                    models.Message
		direction, emailType   string
		status                 string
		relatedType, relatedID *string
		smtpMode               *string
	)

	err := row.Scan(
		&msg.ID,
		&msg.TenantID,
		&msg.UserID,
		&msg.MessageID,
		&direction,
		&msg.From,
		&msg.To,
		&msg.CC,
		&msg.BCC,
		&msg.Subject,
		&msg.BodyText,
		&msg.BodyHTML,
		&msg.InReplyTo,
		&msg.References,
		&msg.ThreadID,
		&emailType,
		&relatedType,
		&relatedID,
		&status,
		&msg.IsOpened,
		&msg.IsReplied,
		&msg.IsRead,
		&msg.IsDeleted,
		&smtpMode,
		&msg.SentAt,
		&msg.DeliveredAt,
		&msg.OpenedAt,
		&msg.RepliedAt,
		&msg.IMAPUID,
		&msg.IMAPFolder,
		&msg.Attachments,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Direction = models.Direction(direction)
	msg.EmailType = models.EmailType(emailType)
	msg.Status = models.Status(status)
	if relatedType != nil && relatedID != nil {
		msg.RelatedTo = models.NewRelatedEntity(*relatedType, *relatedID)
	}
	if smtpMode != nil {
		mode := models.SMTPMode(*smtpMode)
		msg.SMTPMode = &mode
	}

	return &msg, nil
}

func nonNilAddresses(addresses []models.Address) []models.Address {
	if addresses == nil {
		return []models.Address{}
	}
	return addresses
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilAttachments(attachments []models.Attachment) []models.Attachment {
	if attachments == nil {
		return []models.Attachment{}
	}
	return attachments
}
