package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaskedPassword replaces stored mailbox passwords in every API response.
const MaskedPassword = "********"

const (
	keySize   = 32
	separator = ":"
)

// ErrInvalidCiphertext is returned by Decrypt for any blob it cannot turn back into plaintext.
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Vault encrypts mailbox credentials at rest with AES-256-CBC.
// Stored values have the form hex(iv):hex(ciphertext), with a fresh random IV per call.
type Vault struct {
	key []byte
}

// NewVault derives the AES-256 key from secret by zero-padding or truncating it to 32 bytes.
func NewVault(secret string) (*Vault, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret must not be empty")
	}

	key := make([]byte, keySize)
	copy(key, secret)

	return &Vault{key: key}, nil
}

// Encrypt encrypts plaintext and returns the hex(iv):hex(ciphertext) form.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + separator + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. It never panics: every malformed blob yields ErrInvalidCiphertext,
// and callers treat that as "no usable credentials".
func (v *Vault) Decrypt(blob string) (string, error) {
	ivHex, ctHex, found := strings.Cut(blob, separator)
	if !found {
		return "", fmt.Errorf("%w: missing separator", ErrInvalidCiphertext)
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: bad IV", ErrInvalidCiphertext)
	}

	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: bad ciphertext length", ErrInvalidCiphertext)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", err
	}

	return string(unpadded), nil
}

// IsEncrypted reports whether value is already in stored form.
// Detection is by format only, so a plaintext password containing ':' counts as encrypted.
func IsEncrypted(value string) bool {
	return strings.Contains(value, separator)
}

// EnsureEncrypted encrypts value unless it is already in stored form. Saving an unchanged
// config therefore never double-encrypts the password.
func (v *Vault) EnsureEncrypted(value string) (string, error) {
	if value == "" || IsEncrypted(value) {
		return value, nil
	}
	return v.Encrypt(value)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
		}
	}

	return data[:len(data)-padding], nil
}
