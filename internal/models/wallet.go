package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowWallet is the per-deal 2-of-3 escrow account. The buyer, seller and
// arbiter public keys form the signing policy; the service keeps one
// encrypted custodial seed to co-sign once the key-validation gate has
// passed. Party payout secrets are stored only as SHA-256 hashes.
type EscrowWallet struct {
	ID               uuid.UUID `json:"id"`
	DealID           uuid.UUID `json:"deal_id"`
	Address          string    `json:"address"`
	BuyerPubKey      string    `json:"buyer_pub_key"`   // hex
	SellerPubKey     string    `json:"seller_pub_key"`  // hex
	ArbiterPubKey    string    `json:"arbiter_pub_key"` // hex
	EncryptedSeed    string    `json:"-"`               // AES-GCM, base64
	BuyerSecretHash  string    `json:"-"`               // sha256 hex
	SellerSecretHash string    `json:"-"`               // sha256 hex
	CreatedAt        time.Time `json:"created_at"`
}

// SecretHash returns the stored hash for a validation type: the payout
// recipient proves their identity by reproducing their own secret.
func (w *EscrowWallet) SecretHash(validationType string) (string, bool) {
	switch validationType {
	case ValidationRelease:
		return w.SellerSecretHash, true
	case ValidationRefund:
		return w.BuyerSecretHash, true
	default:
		return "", false
	}
}
