package anonymize

import (
	"bytes"
	"testing"

	"github.com/scrubly-ai/scrubly/internal/pii"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()

	for _, original := range []string{"555-123-4567", "", "日本語テキスト", "john@example.com"} {
		token, err := Encrypt(original, key)
		if err != nil {
			t.Fatalf("Encrypt(%q) error: %v", original, err)
		}
		if token == original && original != "" {
			t.Fatalf("Encrypt(%q) returned plaintext", original)
		}
		back, err := Decrypt(token, key)
		if err != nil {
			t.Fatalf("Decrypt error: %v", err)
		}
		if back != original {
			t.Fatalf("round trip = %q, want %q", back, original)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	token, err := Encrypt("secret", testKey())
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if _, err := Decrypt(token, bytes.Repeat([]byte{0x01}, KeySize)); err == nil {
		t.Fatal("expected failure with the wrong key")
	}
	if _, err := Decrypt(token, []byte("short")); err == nil {
		t.Fatal("expected failure with a short key")
	}
}

func TestEncryptStrategyThroughTransform(t *testing.T) {
	key := testKey()
	table := PolicyTable{
		"PERSON": {Strategy: StrategyEncrypt, Key: key},
	}

	out, items, err := Transform("hello Alice", []pii.Span{{EntityType: "PERSON", Start: 6, End: 11, Score: 1}}, table)
	if err != nil {
		t.Fatalf("Transform() error: %v", err)
	}
	if out == "hello Alice" {
		t.Fatal("output unchanged")
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}

	back, err := DecryptItem(items[0], key)
	if err != nil {
		t.Fatalf("DecryptItem error: %v", err)
	}
	if back != "Alice" {
		t.Fatalf("DecryptItem = %q, want Alice", back)
	}

	if _, err := DecryptItem(Item{Strategy: StrategyHash}, key); err == nil {
		t.Fatal("DecryptItem must reject non-encrypt items")
	}
}

func TestEncryptMissingKeyIsConfigError(t *testing.T) {
	table := PolicyTable{"PERSON": {Strategy: StrategyEncrypt}}
	_, _, err := Transform("hi Bob", []pii.Span{{EntityType: "PERSON", Start: 3, End: 6, Score: 1}}, table)
	if err == nil {
		t.Fatal("expected error when no key is configured")
	}
}
