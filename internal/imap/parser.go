package imap

import (
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
)

// ErrNoMessageID is returned for messages without a Message-ID header. They cannot be deduplicated.
var ErrNoMessageID = errors.New("message has no Message-ID header")

// ParseMessage converts a fetched IMAP message into an inbound Message owned by userID and tenantID.
func ParseMessage(imapMsg *imap.Message, userID, tenantID, folderName string) (*models.Message, error) {
	if imapMsg == nil {
		return nil, fmt.Errorf("imap message is nil")
	}

	body := imapMsg.GetBody(peekSection)
	if body == nil {
		return nil, fmt.Errorf("message UID %d has no body", imapMsg.Uid)
	}

	msg, err := parseRaw(body, imapMsg.InternalDate)
	if err != nil {
		return nil, fmt.Errorf("message UID %d: %w", imapMsg.Uid, err)
	}

	uid := int64(imapMsg.Uid)
	msg.UserID = userID
	msg.TenantID = tenantID
	msg.IMAPUID = &uid
	msg.IMAPFolder = &folderName
	for _, flag := range imapMsg.Flags {
		if flag == imap.SeenFlag {
			msg.IsRead = true
		}
	}

	return msg, nil
}

// parseRaw parses an RFC 5322 message with enmime. Header values are decoded and normalized to
// plain strings; fallbackDate is used when the Date header is missing or malformed.
func parseRaw(r io.Reader, fallbackDate time.Time) (*models.Message, error) {
	envelope, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email body: %w", err)
	}

	messageID := models.NormalizeMessageID(envelope.GetHeader("Message-ID"))
	if messageID == "" {
		return nil, ErrNoMessageID
	}

	msg := &models.Message{
		MessageID:  messageID,
		Direction:  models.DirectionReceived,
		Subject:    strings.TrimSpace(envelope.GetHeader("Subject")),
		BodyText:   envelope.Text,
		BodyHTML:   envelope.HTML,
		References: models.ParseReferences(envelope.GetHeader("References")),
		SentAt:     parseDate(envelope.GetHeader("Date"), fallbackDate),
	}

	// Some clients put several ids in In-Reply-To. The last one is the direct parent.
	if ids := models.ParseReferences(envelope.GetHeader("In-Reply-To")); len(ids) > 0 {
		parent := ids[len(ids)-1]
		msg.InReplyTo = &parent
	}

	if from := addressList(envelope, "From"); len(from) > 0 {
		msg.From = from[0]
	}
	msg.To = addressList(envelope, "To")
	msg.CC = addressList(envelope, "Cc")

	for _, part := range envelope.Attachments {
		msg.Attachments = append(msg.Attachments, attachmentFromPart(part))
	}
	for _, part := range envelope.Inlines {
		if part.FileName == "" {
			continue
		}
		msg.Attachments = append(msg.Attachments, attachmentFromPart(part))
	}

	return msg, nil
}

func attachmentFromPart(part *enmime.Part) models.Attachment {
	return models.Attachment{
		Filename:    part.FileName,
		ContentType: part.ContentType,
		SizeBytes:   int64(len(part.Content)),
		ContentID:   part.ContentID,
	}
}

// addressList returns the normalized addresses of a header. Malformed headers yield an empty list.
func addressList(envelope *enmime.Envelope, header string) []models.Address {
	list, err := envelope.AddressList(header)
	if err != nil {
		return []models.Address{}
	}

	result := make([]models.Address, 0, len(list))
	for _, address := range list {
		result = append(result, models.Address{Email: address.Address, Name: address.Name})
	}
	return models.NormalizeAddresses(result)
}

func parseDate(value string, fallback time.Time) time.Time {
	if value != "" {
		if t, err := mail.ParseDate(value); err == nil {
			return t.UTC()
		}
	}
	if fallback.IsZero() {
		return time.Now().UTC()
	}
	return fallback.UTC()
}
