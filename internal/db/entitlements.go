package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HasActiveEntitlement reports whether the tenant holds an active, unexpired entitlement for product.
func HasActiveEntitlement(ctx context.Context, pool *pgxpool.Pool, tenantID, product string) (bool, error) {
	var active bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM tenant_entitlements
			WHERE tenant_id = $1 AND product = $2 AND active
				AND (expires_at IS NULL OR expires_at > now())
		)
	`, tenantID, product).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("failed to check entitlement: %w", err)
	}
	return active, nil
}

// SaveEntitlement grants or updates an entitlement. A nil expiresAt never expires.
func SaveEntitlement(ctx context.Context, pool *pgxpool.Pool, tenantID, product string, active bool, expiresAt *time.Time) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO tenant_entitlements (tenant_id, product, active, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, product) DO UPDATE SET
			active = EXCLUDED.active,
			expires_at = EXCLUDED.expires_at
	`, tenantID, product, active, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save entitlement: %w", err)
	}
	return nil
}
