package anonymize

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the required encryption key length in bytes.
const KeySize = 32

var errCipherOpen = errors.New("anonymize: decryption failed (wrong key or corrupted token)")

// Encrypt seals the original substring with a random nonce under key and
// returns a base64 token. The operation is lossless: Decrypt on the token
// with the same key recovers the exact input.
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("anonymize: encrypt key must be %d bytes, got %d", KeySize, len(key))
	}
	var k [KeySize]byte
	copy(k[:], key)

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("anonymize: generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &k)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func Decrypt(token string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("anonymize: decrypt key must be %d bytes, got %d", KeySize, len(key))
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("anonymize: decode token: %w", err)
	}
	if len(raw) < 24 {
		return "", errCipherOpen
	}

	var k [KeySize]byte
	copy(k[:], key)
	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &k)
	if !ok {
		return "", errCipherOpen
	}
	return string(plain), nil
}

// DecryptItem recovers the original substring for an audit item produced by
// the encrypt strategy.
func DecryptItem(item Item, key []byte) (string, error) {
	if item.Strategy != StrategyEncrypt {
		return "", fmt.Errorf("anonymize: item for %s was produced by %q, not %q", item.EntityType, item.Strategy, StrategyEncrypt)
	}
	return Decrypt(item.ReplacementText, key)
}
