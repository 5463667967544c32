package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailConfigs(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	t.Run("missing config", func(t *testing.T) {
		_, err := GetMailConfig(ctx, pool, "nobody")
		assert.True(t, errors.Is(err, ErrMailConfigNotFound))
	})

	t.Run("save and update", func(t *testing.T) {
		cfg := &models.UserMailConfig{
			UserID:       "user-1",
			TenantID:     "tenant-a",
			DisplayName:  "Rep One",
			ReplyTo:      "rep@tenant.test",
			Signature:    "-- Rep",
			IsConfigured: true,
			IsPremium:    true,
			Premium: models.PremiumMailbox{
				SMTPHost:          "smtp.tenant.test",
				SMTPPort:          587,
				IMAPHost:          "imap.tenant.test",
				IMAPPort:          993,
				Username:          "rep",
				EncryptedPassword: "00:11",
				FromAddress:       "rep@tenant.test",
				IsVerified:        true,
			},
		}
		require.NoError(t, SaveMailConfig(ctx, pool, cfg))

		got, err := GetMailConfig(ctx, pool, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "Rep One", got.DisplayName)
		assert.Equal(t, cfg.Premium, got.Premium)

		cfg.Signature = "-- Updated"
		require.NoError(t, SaveMailConfig(ctx, pool, cfg))
		got, err = GetMailConfig(ctx, pool, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "-- Updated", got.Signature)
	})

	t.Run("eligible configs", func(t *testing.T) {
		require.NoError(t, SaveMailConfig(ctx, pool, &models.UserMailConfig{
			UserID: "user-2", TenantID: "tenant-a", IsConfigured: true, IsPremium: true,
			Premium: models.PremiumMailbox{EncryptedPassword: "00:11", IsVerified: false},
		}))
		require.NoError(t, SaveMailConfig(ctx, pool, &models.UserMailConfig{
			UserID: "user-3", TenantID: "tenant-b", IsConfigured: true, IsPremium: true,
			Premium: models.PremiumMailbox{EncryptedPassword: "00:11", IsVerified: true},
		}))
		require.NoError(t, SaveMailConfig(ctx, pool, &models.UserMailConfig{
			UserID: "user-4", TenantID: "tenant-a", IsConfigured: true, IsPremium: false,
		}))

		all, err := ListEligibleMailConfigs(ctx, pool, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "user-1", all[0].UserID)
		assert.Equal(t, "user-3", all[1].UserID)

		tenantA, err := ListEligibleMailConfigs(ctx, pool, "tenant-a")
		require.NoError(t, err)
		require.Len(t, tenantA, 1)
		assert.Equal(t, "user-1", tenantA[0].UserID)
	})
}

func TestEntitlements(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	ok, err := HasActiveEntitlement(ctx, pool, "tenant-a", "premium_mailbox")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SaveEntitlement(ctx, pool, "tenant-a", "premium_mailbox", true, nil))
	ok, err = HasActiveEntitlement(ctx, pool, "tenant-a", "premium_mailbox")
	require.NoError(t, err)
	assert.True(t, ok)

	expired := time.Now().Add(-time.Hour)
	require.NoError(t, SaveEntitlement(ctx, pool, "tenant-a", "premium_mailbox", true, &expired))
	ok, err = HasActiveEntitlement(ctx, pool, "tenant-a", "premium_mailbox")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SaveEntitlement(ctx, pool, "tenant-a", "premium_mailbox", false, nil))
	ok, err = HasActiveEntitlement(ctx, pool, "tenant-a", "premium_mailbox")
	require.NoError(t, err)
	assert.False(t, ok)
}
