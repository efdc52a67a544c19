package chain

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// PartyKey is one party's half of the signing policy: the public key goes
// into the wallet record, the secret is shown to the party exactly once and
// only its hash is retained.
type PartyKey struct {
	PubKey string
	Secret string
}

// NewPartyKey generates a fresh ed25519 keypair for a deal party.
func NewPartyKey() (PartyKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PartyKey{}, fmt.Errorf("generate party key: %w", err)
	}
	return PartyKey{
		PubKey: hex.EncodeToString(pub),
		Secret: hex.EncodeToString(priv.Seed()),
	}, nil
}

// HashSecret is the at-rest form of a party secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// KeyCipher encrypts custodial seed words at rest with AES-256-GCM under
// the service master key.
type KeyCipher struct {
	aead cipher.AEAD
}

func NewKeyCipher(masterKeyHex string) (*KeyCipher, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &KeyCipher{aead: aead}, nil
}

func (c *KeyCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *KeyCipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return "", fmt.Errorf("ciphertext too short")
	}
	plain, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt seed: %w", err)
	}
	return string(plain), nil
}
