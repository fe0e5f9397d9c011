package secrets

import (
	"encoding/hex"
	"testing"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	for _, plaintext := range []string{
		"my-client-secret",
		"",
		"ya29.a0AfH6SMBx-very-long-access-token-payload-0123456789",
		"token with spaces and ünïcode",
	} {
		ciphertext, err := Encrypt(plaintext, key)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}

		got, err := Decrypt(ciphertext, key)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("round-trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncrypt_DifferentCiphertexts(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	plaintext := "same-refresh-token"
	ct1, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt 1: %v", err)
	}
	ct2, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt 2: %v", err)
	}

	if ct1 == ct2 {
		t.Error("expected different ciphertexts due to random nonce, got identical")
	}

	// Both should still decrypt to same plaintext.
	for i, ct := range []string{ct1, ct2} {
		got, err := Decrypt(ct, key)
		if err != nil {
			t.Fatalf("decrypt %d: %v", i+1, err)
		}
		if got != plaintext {
			t.Errorf("decrypt %d: got %q, want %q", i+1, got, plaintext)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	keyA, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key A: %v", err)
	}
	keyB, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key B: %v", err)
	}

	ciphertext, err := Encrypt("secret-data", keyA)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	_, err = Decrypt(ciphertext, keyB)
	if err == nil {
		t.Fatal("expected error decrypting with wrong key")
	}
	if err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed, got: %v", err)
	}
}

func TestDecrypt_CorruptedData(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	// Hex-encoded garbage that is long enough to have a nonce prefix.
	garbage := hex.EncodeToString(make([]byte, 64))
	_, err = Decrypt(garbage, key)
	if err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed for corrupted data, got: %v", err)
	}
}

func TestDecrypt_InvalidHex(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	_, err = Decrypt("not-valid-hex!!!", key)
	if err == nil {
		t.Fatal("expected error for invalid hex input")
	}
}

func TestEncryptDecrypt_InvalidKeyLength(t *testing.T) {
	for _, keyLen := range []int{0, 16, 24, 31, 33, 64} {
		key := make([]byte, keyLen)
		if _, err := Encrypt("test", key); err != ErrInvalidKey {
			t.Errorf("encrypt key length %d: expected ErrInvalidKey, got: %v", keyLen, err)
		}
		if _, err := Decrypt("aabbccdd", key); err != ErrInvalidKey {
			t.Errorf("decrypt key length %d: expected ErrInvalidKey, got: %v", keyLen, err)
		}
	}
}
