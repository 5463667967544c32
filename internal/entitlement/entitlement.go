// Package entitlement answers whether a tenant may use premium mailbox delivery.
package entitlement

import (
	"context"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PremiumMailboxProduct is the product key that unlocks premium delivery.
const PremiumMailboxProduct = "premium_mailbox"

// Checker looks up a tenant's premium entitlement.
type Checker interface {
	HasPremiumEntitlement(ctx context.Context, tenantID string) (bool, error)
}

// PostgresChecker reads entitlements from the tenant_entitlements table.
type PostgresChecker struct {
	pool *pgxpool.Pool
}

// NewPostgresChecker creates a Checker backed by pool.
func NewPostgresChecker(pool *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{pool: pool}
}

// HasPremiumEntitlement implements Checker.
func (c *PostgresChecker) HasPremiumEntitlement(ctx context.Context, tenantID string) (bool, error) {
	return db.HasActiveEntitlement(ctx, c.pool, tenantID, PremiumMailboxProduct)
}

// Guard wraps a Checker with a deadline and turns every failure into "not entitled".
type Guard struct {
	checker Checker
	timeout time.Duration
	log     zerolog.Logger
}

// NewGuard creates a Guard. A zero timeout leaves the caller's context untouched.
func NewGuard(checker Checker, timeout time.Duration, log zerolog.Logger) *Guard {
	return &Guard{
		checker: checker,
		timeout: timeout,
		log:     log.With().Str("component", "entitlement").Logger(),
	}
}

// IsPremium reports whether the tenant is entitled. It never returns an error.
func (g *Guard) IsPremium(ctx context.Context, tenantID string) bool {
	if g == nil || g.checker == nil {
		return false
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	entitled, err := g.checker.HasPremiumEntitlement(ctx, tenantID)
	if err != nil {
		g.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("entitlement lookup failed, treating as not entitled")
		return false
	}
	return entitled
}
