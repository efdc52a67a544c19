package repositories

import (
	"context"

	"github.com/escrow-desk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CostRepo struct {
	pool *pgxpool.Pool
}

func NewCostRepo(pool *pgxpool.Pool) *CostRepo {
	return &CostRepo{pool: pool}
}

func (r *CostRepo) Create(ctx context.Context, c *models.OperationCost) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO operation_costs (deal_id, acquisition_method, rental_cost, fallback_sent,
		                             fallback_returned, net_cost, fee_pending)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, c.DealID, c.AcquisitionMethod, c.RentalCost, c.FallbackSent,
		c.FallbackReturned, c.NetCost, c.FeePending).Scan(&c.ID, &c.CreatedAt)
}

func (r *CostRepo) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.OperationCost, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, acquisition_method, rental_cost, fallback_sent,
		       fallback_returned, net_cost, fee_pending, created_at
		FROM operation_costs WHERE deal_id = $1 ORDER BY created_at ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var costs []models.OperationCost
	for rows.Next() {
		var c models.OperationCost
		if err := rows.Scan(&c.ID, &c.DealID, &c.AcquisitionMethod, &c.RentalCost, &c.FallbackSent,
			&c.FallbackReturned, &c.NetCost, &c.FeePending, &c.CreatedAt); err != nil {
			return nil, err
		}
		costs = append(costs, c)
	}
	return costs, nil
}
