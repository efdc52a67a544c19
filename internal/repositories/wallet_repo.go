package repositories

import (
	"context"

	"github.com/escrow-desk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WalletRepo is the only access path to escrow wallet rows; the key-material
// columns never leave this package except through these methods.
type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

func (r *WalletRepo) Create(ctx context.Context, w *models.EscrowWallet) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrow_wallets (deal_id, address, buyer_pub_key, seller_pub_key, arbiter_pub_key,
		                            encrypted_seed, buyer_secret_hash, seller_secret_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, w.DealID, w.Address, w.BuyerPubKey, w.SellerPubKey, w.ArbiterPubKey,
		w.EncryptedSeed, w.BuyerSecretHash, w.SellerSecretHash,
	).Scan(&w.ID, &w.CreatedAt)
}

func (r *WalletRepo) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.EscrowWallet, error) {
	var w models.EscrowWallet
	err := r.pool.QueryRow(ctx, `
		SELECT id, deal_id, address, buyer_pub_key, seller_pub_key, arbiter_pub_key,
		       encrypted_seed, buyer_secret_hash, seller_secret_hash, created_at
		FROM escrow_wallets WHERE deal_id = $1
	`, dealID).Scan(&w.ID, &w.DealID, &w.Address, &w.BuyerPubKey, &w.SellerPubKey, &w.ArbiterPubKey,
		&w.EncryptedSeed, &w.BuyerSecretHash, &w.SellerSecretHash, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
