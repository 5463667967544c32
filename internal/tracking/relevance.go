package tracking

import (
	"context"
	"strings"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/rs/zerolog"
)

// Rule names the check that produced a relevance decision.
type Rule string

const (
	RuleDirectReply        Rule = "direct-reply"
	RuleThreadContinuation Rule = "thread-continuation"
	RuleKnownCorrespondent Rule = "known-correspondent"
	RuleFailOpen           Rule = "fail-open"
	RuleNone               Rule = "none"
)

// Decision is the outcome of a relevance check.
type Decision struct {
	Relevant bool
	Rule     Rule
	Reason   string
}

// RelevanceFilter keeps inbound mail that is provably connected to something the tenant sent.
type RelevanceFilter struct {
	store    db.MessageStore
	lookback time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewRelevanceFilter creates a filter. A zero lookback makes the known-correspondent scan unbounded.
func NewRelevanceFilter(store db.MessageStore, lookback time.Duration, log zerolog.Logger) *RelevanceFilter {
	return &RelevanceFilter{
		store:    store,
		lookback: lookback,
		log:      log.With().Str("component", "relevance_filter").Logger(),
		now:      time.Now,
	}
}

// IsRelevant runs the checks in order and stops at the first match.
// Store errors never drop a message: the filter answers relevant instead.
func (f *RelevanceFilter) IsRelevant(ctx context.Context, fromAddress, inReplyTo string, references []string, tenantID string) Decision {
	if inReplyTo != "" {
		ok, err := f.store.SentMessageExists(ctx, tenantID, inReplyTo)
		if err != nil {
			return f.failOpen(err, "direct reply lookup")
		}
		if ok {
			return Decision{Relevant: true, Rule: RuleDirectReply, Reason: "replies to sent message " + inReplyTo}
		}
	}

	if len(references) > 0 {
		ok, err := f.store.SentMessageExistsAny(ctx, tenantID, references)
		if err != nil {
			return f.failOpen(err, "references lookup")
		}
		if ok {
			return Decision{Relevant: true, Rule: RuleThreadContinuation, Reason: "references a sent message"}
		}
	}

	from := strings.ToLower(strings.TrimSpace(fromAddress))
	if from != "" {
		var since time.Time
		if f.lookback > 0 {
			since = f.now().Add(-f.lookback)
		}
		ok, err := f.store.SentToCorrespondent(ctx, tenantID, from, since)
		if err != nil {
			return f.failOpen(err, "correspondent lookup")
		}
		if ok {
			return Decision{Relevant: true, Rule: RuleKnownCorrespondent, Reason: from + " was previously emailed"}
		}
	}

	return Decision{Relevant: false, Rule: RuleNone, Reason: "no reply, reference or correspondent match"}
}

func (f *RelevanceFilter) failOpen(err error, stage string) Decision {
	f.log.Error().Err(err).Str("stage", stage).Msg("relevance check failed, keeping message")
	return Decision{Relevant: true, Rule: RuleFailOpen, Reason: stage + " failed: " + err.Error()}
}
