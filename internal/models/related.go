package models

// RelatedType is the kind of business entity a message can be linked to.
type RelatedType string

const (
	RelatedLead      RelatedType = "lead"
	RelatedContact   RelatedType = "contact"
	RelatedAccount   RelatedType = "account"
	RelatedCandidate RelatedType = "candidate"
	RelatedMeeting   RelatedType = "meeting"
	RelatedUser      RelatedType = "user"
)

// Valid reports whether t is a known entity kind.
func (t RelatedType) Valid() bool {
	switch t {
	case RelatedLead, RelatedContact, RelatedAccount, RelatedCandidate, RelatedMeeting, RelatedUser:
		return true
	}
	return false
}

// RelatedEntity links a message to a business record owned by another service.
type RelatedEntity struct {
	Type RelatedType `json:"type"`
	ID   string      `json:"id"`
}

// NewRelatedEntity returns nil unless both fields are present and the type is known.
func NewRelatedEntity(entityType, id string) *RelatedEntity {
	t := RelatedType(entityType)
	if id == "" || !t.Valid() {
		return nil
	}
	return &RelatedEntity{Type: t, ID: id}
}
