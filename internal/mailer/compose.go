package mailer

import (
	"bytes"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
)

const (
	noSubject     = "(no subject)"
	defaultDomain = "localhost"
)

// envelope is everything needed to build and hand off one message.
type envelope struct {
	MessageID   string
	From        models.Address
	ReplyTo     string
	To          []models.Address
	CC          []models.Address
	BCC         []models.Address
	Subject     string
	Text        string
	HTML        string
	InReplyTo   string
	References  []string
	Attachments []Attachment
	Date        time.Time
}

// recipients returns every envelope recipient, Bcc included.
func (e *envelope) recipients() []string {
	result := make([]string, 0, len(e.To)+len(e.CC)+len(e.BCC))
	for _, group := range [][]models.Address{e.To, e.CC, e.BCC} {
		for _, address := range group {
			result = append(result, address.Email)
		}
	}
	return result
}

// newMessageID returns a bare Message-ID in the sender's domain.
func newMessageID(from string) string {
	domain := defaultDomain
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = strings.ToLower(from[at+1:])
	}
	return uuid.NewString() + "@" + domain
}

// applySignature appends the signature to both bodies. An empty body stays empty.
func applySignature(text, htmlBody, signature string) (string, string) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return text, htmlBody
	}

	if text != "" {
		text = strings.TrimRight(text, "\r\n") + "\n\n-- \n" + signature
	}
	if htmlBody != "" {
		lines := strings.Split(html.EscapeString(signature), "\n")
		htmlBody += `<br><br><div class="signature">` + strings.Join(lines, "<br>") + "</div>"
	}
	return text, htmlBody
}

// compose renders the envelope as an RFC 5322 message.
func compose(e *envelope) ([]byte, error) {
	subject := strings.TrimSpace(e.Subject)
	if subject == "" {
		subject = noSubject
	}

	builder := enmime.Builder().
		From(e.From.Name, e.From.Email).
		Subject(subject).
		Date(e.Date).
		ToAddrs(toMailAddresses(e.To)).
		CCAddrs(toMailAddresses(e.CC)).
		BCCAddrs(toMailAddresses(e.BCC)).
		Header("Message-ID", "<"+e.MessageID+">")

	if e.ReplyTo != "" {
		builder = builder.ReplyTo("", e.ReplyTo)
	}
	if e.InReplyTo != "" {
		builder = builder.Header("In-Reply-To", "<"+e.InReplyTo+">")
	}
	if len(e.References) > 0 {
		refs := make([]string, len(e.References))
		for i, ref := range e.References {
			refs[i] = "<" + ref + ">"
		}
		builder = builder.Header("References", strings.Join(refs, " "))
	}

	if e.Text != "" || e.HTML == "" {
		builder = builder.Text([]byte(e.Text))
	}
	if e.HTML != "" {
		builder = builder.HTML([]byte(e.HTML))
	}
	for _, attachment := range e.Attachments {
		builder = builder.AddAttachment(attachment.Content, attachment.contentType(), attachment.Filename)
	}

	root, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	var buf bytes.Buffer
	if err := root.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}

func toMailAddresses(addresses []models.Address) []mail.Address {
	result := make([]mail.Address, 0, len(addresses))
	for _, address := range addresses {
		result = append(result, mail.Address{Name: address.Name, Address: address.Email})
	}
	return result
}
