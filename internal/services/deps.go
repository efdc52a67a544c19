package services

import (
	"context"
	"time"

	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/repositories"
	"github.com/google/uuid"
)

// Narrow store interfaces consumed by the services; implemented by the pgx
// repositories and by fakes in tests.

type DealStore interface {
	Create(ctx context.Context, d *models.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	GetByDealID(ctx context.Context, dealID string) (*models.Deal, error)
	HasActiveDeal(ctx context.Context, uniqueKey string) (bool, error)
	List(ctx context.Context, f repositories.DealFilter) ([]models.Deal, error)
	ListPastDeadline(ctx context.Context, statuses []string, now time.Time, limit int) ([]models.Deal, error)
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	SetBuyerAddress(ctx context.Context, id uuid.UUID, addr string) error
	SetSellerAddress(ctx context.Context, id uuid.UUID, addr string) error
	SetPendingValidation(ctx context.Context, id uuid.UUID, validationType *string) error
	Finalize(ctx context.Context, id uuid.UUID, to string) (bool, error)
}

type WalletStore interface {
	Create(ctx context.Context, w *models.EscrowWallet) error
	GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.EscrowWallet, error)
}

type TransactionStore interface {
	Create(ctx context.Context, t *models.Transaction) error
}

type CostStore interface {
	Create(ctx context.Context, c *models.OperationCost) error
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
}
