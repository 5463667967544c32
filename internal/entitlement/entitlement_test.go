package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	entitled bool
	err      error
	delay    time.Duration
}

func (s stubChecker) HasPremiumEntitlement(ctx context.Context, _ string) (bool, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return s.entitled, s.err
}

func TestGuard_IsPremium(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		checker Checker
		want    bool
	}{
		{"entitled", stubChecker{entitled: true}, true},
		{"not entitled", stubChecker{}, false},
		{"lookup error", stubChecker{entitled: true, err: errors.New("boom")}, false},
		{"timeout", stubChecker{entitled: true, delay: time.Second}, false},
		{"nil checker", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := NewGuard(tt.checker, 50*time.Millisecond, zerolog.Nop())
			assert.Equal(t, tt.want, guard.IsPremium(ctx, "T"))
		})
	}

	var nilGuard *Guard
	assert.False(t, nilGuard.IsPremium(ctx, "T"))
}

func TestPostgresChecker(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	checker := NewPostgresChecker(pool)

	entitled, err := checker.HasPremiumEntitlement(ctx, "T")
	require.NoError(t, err)
	assert.False(t, entitled)

	require.NoError(t, db.SaveEntitlement(ctx, pool, "T", PremiumMailboxProduct, true, nil))
	require.NoError(t, db.SaveEntitlement(ctx, pool, "OTHER", "something_else", true, nil))

	entitled, err = checker.HasPremiumEntitlement(ctx, "T")
	require.NoError(t, err)
	assert.True(t, entitled)

	entitled, err = checker.HasPremiumEntitlement(ctx, "OTHER")
	require.NoError(t, err)
	assert.False(t, entitled)
}
