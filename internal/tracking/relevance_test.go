package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRelevanceFilter_IsRelevant(t *testing.T) {
	ctx := context.Background()
	fixedNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	storeErr := errors.New("connection reset")

	tests := []struct {
		name       string
		from       string
		inReplyTo  string
		references []string
		lookback   time.Duration
		setupMock  func(m *mockMessageStore)
		expected   Decision
	}{
		{
			name:      "direct reply to a sent message",
			from:      "x@y.com",
			inReplyTo: "m1@tenant.test",
			setupMock: func(m *mockMessageStore) {
				m.On("SentMessageExists", mock.Anything, "T", "m1@tenant.test").Return(true, nil).Once()
			},
			expected: Decision{Relevant: true, Rule: RuleDirectReply},
		},
		{
			name:       "reference to a sent message",
			from:       "x@y.com",
			inReplyTo:  "unknown@elsewhere",
			references: []string{"m0@tenant.test", "m1@tenant.test"},
			setupMock: func(m *mockMessageStore) {
				m.On("SentMessageExists", mock.Anything, "T", "unknown@elsewhere").Return(false, nil).Once()
				m.On("SentMessageExistsAny", mock.Anything, "T", []string{"m0@tenant.test", "m1@tenant.test"}).Return(true, nil).Once()
			},
			expected: Decision{Relevant: true, Rule: RuleThreadContinuation},
		},
		{
			name: "known correspondent, address is normalized",
			from: "  A@B.com ",
			setupMock: func(m *mockMessageStore) {
				m.On("SentToCorrespondent", mock.Anything, "T", "a@b.com", time.Time{}).Return(true, nil).Once()
			},
			expected: Decision{Relevant: true, Rule: RuleKnownCorrespondent},
		},
		{
			name:     "lookback bounds the correspondent scan",
			from:     "a@b.com",
			lookback: 24 * time.Hour,
			setupMock: func(m *mockMessageStore) {
				m.On("SentToCorrespondent", mock.Anything, "T", "a@b.com", fixedNow.Add(-24*time.Hour)).Return(false, nil).Once()
			},
			expected: Decision{Relevant: false, Rule: RuleNone},
		},
		{
			name: "stranger with no linkage is discarded",
			from: "x@y.com",
			setupMock: func(m *mockMessageStore) {
				m.On("SentToCorrespondent", mock.Anything, "T", "x@y.com", time.Time{}).Return(false, nil).Once()
			},
			expected: Decision{Relevant: false, Rule: RuleNone},
		},
		{
			name:      "store error fails open",
			from:      "x@y.com",
			inReplyTo: "m1@tenant.test",
			setupMock: func(m *mockMessageStore) {
				m.On("SentMessageExists", mock.Anything, "T", "m1@tenant.test").Return(false, storeErr).Once()
			},
			expected: Decision{Relevant: true, Rule: RuleFailOpen},
		},
		{
			name: "correspondent error fails open",
			from: "x@y.com",
			setupMock: func(m *mockMessageStore) {
				m.On("SentToCorrespondent", mock.Anything, "T", "x@y.com", time.Time{}).Return(false, storeErr).Once()
			},
			expected: Decision{Relevant: true, Rule: RuleFailOpen},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockMessageStore)
			tt.setupMock(store)

			filter := NewRelevanceFilter(store, tt.lookback, zerolog.Nop())
			filter.now = func() time.Time { return fixedNow }

			decision := filter.IsRelevant(ctx, tt.from, tt.inReplyTo, tt.references, "T")
			assert.Equal(t, tt.expected.Relevant, decision.Relevant)
			assert.Equal(t, tt.expected.Rule, decision.Rule)
			assert.NotEmpty(t, decision.Reason)
			store.AssertExpectations(t)
		})
	}
}

func TestRelevanceFilter_FirstMatchWins(t *testing.T) {
	store := new(mockMessageStore)
	store.On("SentMessageExists", mock.Anything, "T", "m1").Return(true, nil).Once()

	filter := NewRelevanceFilter(store, 0, zerolog.Nop())
	decision := filter.IsRelevant(context.Background(), "a@b.com", "m1", []string{"m0"}, "T")

	assert.Equal(t, RuleDirectReply, decision.Rule)
	store.AssertNotCalled(t, "SentMessageExistsAny", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "SentToCorrespondent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
