package chain

import (
	"strings"
	"testing"
)

func TestNewPartyKey(t *testing.T) {
	a, err := NewPartyKey()
	if err != nil {
		t.Fatalf("NewPartyKey: %v", err)
	}
	b, err := NewPartyKey()
	if err != nil {
		t.Fatalf("NewPartyKey: %v", err)
	}

	if len(a.PubKey) != 64 {
		t.Errorf("pub key hex length = %d, want 64", len(a.PubKey))
	}
	if len(a.Secret) != 64 {
		t.Errorf("secret hex length = %d, want 64", len(a.Secret))
	}
	if a.Secret == b.Secret || a.PubKey == b.PubKey {
		t.Error("two party keys must not collide")
	}
}

func TestHashSecret(t *testing.T) {
	h1 := HashSecret("correct horse")
	h2 := HashSecret("correct horse")
	h3 := HashSecret("correct horsf")

	if h1 != h2 {
		t.Error("hash must be deterministic")
	}
	if h1 == h3 {
		t.Error("different secrets must hash differently")
	}
	if len(h1) != 64 {
		t.Errorf("hash hex length = %d, want 64", len(h1))
	}
	if strings.Contains(h1, "correct") {
		t.Error("hash must not leak the secret")
	}
}

func TestKeyCipherRoundTrip(t *testing.T) {
	masterKey := strings.Repeat("ab", 32) // 32 bytes hex
	c, err := NewKeyCipher(masterKey)
	if err != nil {
		t.Fatalf("NewKeyCipher: %v", err)
	}

	seed := "abandon ability able about above absent absorb abstract absurd abuse access accident"
	enc, err := c.Encrypt(seed)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(enc, "abandon") {
		t.Error("ciphertext must not contain the plaintext")
	}

	dec, err := c.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if dec != seed {
		t.Errorf("round trip mismatch: %q", dec)
	}

	// Same plaintext encrypts differently (random nonce).
	enc2, _ := c.Encrypt(seed)
	if enc2 == enc {
		t.Error("nonce reuse: identical ciphertexts")
	}
}

func TestKeyCipherRejectsBadKeys(t *testing.T) {
	if _, err := NewKeyCipher("zz"); err == nil {
		t.Error("expected error for non-hex key")
	}
	if _, err := NewKeyCipher("abcd"); err == nil {
		t.Error("expected error for short key")
	}

	c, _ := NewKeyCipher(strings.Repeat("01", 32))
	if _, err := c.Decrypt("not-base64!!"); err == nil {
		t.Error("expected error for malformed ciphertext")
	}
	if _, err := c.Decrypt("YWJjZA=="); err == nil {
		t.Error("expected error for truncated ciphertext")
	}
}
