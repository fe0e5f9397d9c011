package secrets

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Master key material bounds. The env value is a passphrase-style secret, not
// raw key bytes; it is expanded to a 32-byte AES key with HKDF-SHA256.
const (
	MinMasterKeyLength = 32
	MaxMasterKeyLength = 256
)

var (
	ErrKeyMissing    = errors.New("master encryption key is not set")
	ErrKeyTooShort   = fmt.Errorf("master encryption key must be at least %d characters", MinMasterKeyLength)
	ErrKeyTooLong    = fmt.Errorf("master encryption key must be at most %d characters", MaxMasterKeyLength)
	ErrKeyWhitespace = errors.New("master encryption key must not be blank")
)

// hkdfInfo binds derived keys to their purpose so the same master secret
// cannot be reused for an unrelated cipher context.
const hkdfInfo = "doorpasses/sso-token-cipher/v1"

// ValidateMasterKey checks raw master key material without deriving anything.
// Fails fast on absent, blank, too-short, or too-long values.
func ValidateMasterKey(material string) error {
	if material == "" {
		return ErrKeyMissing
	}
	if strings.TrimSpace(material) == "" {
		return ErrKeyWhitespace
	}
	if len(material) < MinMasterKeyLength {
		return ErrKeyTooShort
	}
	if len(material) > MaxMasterKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// DeriveKey expands validated master key material into a 32-byte AES-256 key
// using HKDF-SHA256.
func DeriveKey(material string) ([]byte, error) {
	if err := ValidateMasterKey(material); err != nil {
		return nil, err
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(material), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// LoadMasterKey reads master key material from the named environment
// variable, validates it, and derives the cipher key.
func LoadMasterKey(envName string) ([]byte, error) {
	material := os.Getenv(envName)
	key, err := DeriveKey(material)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", envName, err)
	}
	return key, nil
}
