// Package events defines the tenant-scoped notification boundary.
// Delivery to end-user clients is the publisher's concern; callers fire and forget.
package events

// Event names published by ingestion and dispatch.
const (
	NewEmail  = "new_email"
	EmailSent = "email_sent"
)

// Publisher delivers an event to everyone listening for a tenant.
// Implementations must not block the caller for long and must swallow their own errors.
type Publisher interface {
	Publish(tenantID, event string, payload any)
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(string, string, any) {}

var _ Publisher = NopPublisher{}
