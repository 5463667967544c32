package mailer

import (
	"context"
	"strings"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"golang.org/x/time/rate"
)

// BulkRecipient is one addressee of a bulk send with the values for its placeholders.
type BulkRecipient struct {
	Email     string                `json:"email"`
	FirstName string                `json:"first_name"`
	LastName  string                `json:"last_name"`
	Name      string                `json:"name"`
	RelatedTo *models.RelatedEntity `json:"related_to"`
}

// displayName is the explicit name, else first and last name joined.
func (r BulkRecipient) displayName() string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// BulkRequest is a templated message sent to each recipient separately.
// Subject, Text and HTML may contain {{firstName}}, {{lastName}}, {{email}} and {{name}}.
type BulkRequest struct {
	Recipients  []BulkRecipient       `json:"recipients"`
	Subject     string                `json:"subject"`
	Text        string                `json:"text"`
	HTML        string                `json:"html"`
	Attachments []Attachment          `json:"attachments"`
	EmailType   models.EmailType      `json:"email_type"`
	RelatedTo   *models.RelatedEntity `json:"related_to"`
}

// BulkError is the failure of one recipient.
type BulkError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// BulkResult counts the outcome of a bulk send.
type BulkResult struct {
	Sent   int         `json:"sent"`
	Failed int         `json:"failed"`
	Errors []BulkError `json:"errors"`
}

// SendBulk sends the template to every recipient through the regular send path.
// One failing recipient never stops the batch. A cancelled context fails the rest.
func (d *Dispatcher) SendBulk(ctx context.Context, userID, tenantID string, req BulkRequest) BulkResult {
	result := BulkResult{Errors: []BulkError{}}
	limiter := rate.NewLimiter(d.bulkRate, 1)

	emailType := req.EmailType
	if !emailType.Valid() {
		emailType = models.EmailTypeBulk
	}

	for _, recipient := range req.Recipients {
		if err := limiter.Wait(ctx); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkError{Email: recipient.Email, Error: err.Error()})
			continue
		}

		replacer := placeholderReplacer(recipient)
		related := recipient.RelatedTo
		if related == nil {
			related = req.RelatedTo
		}

		_, err := d.sendOne(ctx, userID, tenantID, OutboundEmail{
			To:          []models.Address{{Email: recipient.Email, Name: recipient.displayName()}},
			Subject:     replacer.Replace(req.Subject),
			Text:        replacer.Replace(req.Text),
			HTML:        replacer.Replace(req.HTML),
			Attachments: req.Attachments,
			EmailType:   emailType,
			RelatedTo:   related,
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkError{Email: recipient.Email, Error: err.Error()})
			continue
		}
		result.Sent++
	}

	d.log.Info().Str("user_id", userID).Int("sent", result.Sent).Int("failed", result.Failed).Msg("bulk send finished")
	return result
}

// sendOne isolates a single recipient so a panic in one send cannot stop the batch.
func (d *Dispatcher) sendOne(ctx context.Context, userID, tenantID string, email OutboundEmail) (result *SendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("recovered from panic during bulk send")
			result, err = nil, errBulkPanic
		}
	}()
	return d.Send(ctx, userID, tenantID, email)
}

func placeholderReplacer(r BulkRecipient) *strings.Replacer {
	return strings.NewReplacer(
		"{{firstName}}", r.FirstName,
		"{{lastName}}", r.LastName,
		"{{email}}", r.Email,
		"{{name}}", r.displayName(),
	)
}
