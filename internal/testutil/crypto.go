package testutil

import (
	"testing"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/crypto"
)

// TestEncryptionSecret is the vault secret shared by every test package.
const TestEncryptionSecret = "test-secret-0123456789abcdefghij"

// GetTestVault creates a vault with a deterministic secret for testing.
func GetTestVault(t *testing.T) *crypto.Vault {
	t.Helper()

	vault, err := crypto.NewVault(TestEncryptionSecret)
	if err != nil {
		t.Fatalf("Failed to create vault: %v", err)
	}
	return vault
}

// MustEncrypt encrypts plaintext with vault or fails the test.
func MustEncrypt(t *testing.T, vault *crypto.Vault, plaintext string) string {
	t.Helper()

	blob, err := vault.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	return blob
}
