package repositories

import (
	"context"

	"github.com/escrow-desk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create appends a confirmed transfer. Rows are never updated afterwards.
func (r *TransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO transactions (deal_id, kind, tx_hash, amount, from_address, to_address, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, t.DealID, t.Kind, t.TxHash, t.Amount, t.FromAddress, t.ToAddress, t.Status).Scan(&t.ID, &t.CreatedAt)
}

func (r *TransactionRepo) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, kind, tx_hash, amount, from_address, to_address, status, created_at
		FROM transactions WHERE deal_id = $1 ORDER BY created_at ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.DealID, &t.Kind, &t.TxHash, &t.Amount,
			&t.FromAddress, &t.ToAddress, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, nil
}
