package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/escrow-desk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateActiveDeal is returned by Create when the partial unique index
// on unique_key rejects a second non-terminal deal for the same parties and
// context. It backs the HasActiveDeal pre-check against concurrent creates.
var ErrDuplicateActiveDeal = errors.New("an active deal with this unique key already exists")

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

const dealColumns = `id, deal_id, unique_key, buyer_id, seller_id, buyer_address, seller_address,
	       amount, asset, commission, commission_type, deadline, multisig_address,
	       deposit_tx_hash, status, pending_key_validation, completed_at, created_at, updated_at`

func (r *DealRepo) Create(ctx context.Context, d *models.Deal) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO deals (deal_id, unique_key, buyer_id, seller_id, buyer_address, seller_address,
		                   amount, asset, commission, commission_type, deadline, multisig_address, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`, d.DealID, d.UniqueKey, d.BuyerID, d.SellerID, d.BuyerAddress, d.SellerAddress,
		d.Amount, d.Asset, d.Commission, d.CommissionType, d.Deadline, d.MultisigAddress, d.Status,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_deals_active_unique_key" {
		return ErrDuplicateActiveDeal
	}
	return err
}

func (r *DealRepo) scanDeal(row interface{ Scan(...any) error }) (*models.Deal, error) {
	var d models.Deal
	err := row.Scan(&d.ID, &d.DealID, &d.UniqueKey, &d.BuyerID, &d.SellerID, &d.BuyerAddress, &d.SellerAddress,
		&d.Amount, &d.Asset, &d.Commission, &d.CommissionType, &d.Deadline, &d.MultisigAddress,
		&d.DepositTxHash, &d.Status, &d.PendingKeyValidation, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return r.scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id))
}

func (r *DealRepo) GetByDealID(ctx context.Context, dealID string) (*models.Deal, error) {
	return r.scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE deal_id = $1`, dealID))
}

// HasActiveDeal reports whether a non-terminal deal already exists for the
// unique key, enforcing the one-active-deal-per-pair invariant.
func (r *DealRepo) HasActiveDeal(ctx context.Context, uniqueKey string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM deals
			WHERE unique_key = $1
			  AND status NOT IN ('completed', 'resolved', 'expired', 'cancelled')
		)
	`, uniqueKey).Scan(&exists)
	return exists, err
}

type DealFilter struct {
	PartyID *string // matches buyer or seller
	Status  *string
	Limit   int
	Offset  int
}

func (r *DealRepo) List(ctx context.Context, f DealFilter) ([]models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.PartyID != nil {
		where = append(where, fmt.Sprintf("(buyer_id = $%d OR seller_id = $%d)", argIdx, argIdx))
		args = append(args, *f.PartyID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		d, err := r.scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, nil
}

// ListByStatus returns deals in one status, oldest first, for monitor sweeps.
func (r *DealRepo) ListByStatus(ctx context.Context, status string, limit int) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		d, err := r.scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, nil
}

// ListPastDeadline returns deals in the given statuses whose deadline has
// passed. Dispute and terminal states are excluded by the caller's status
// list, keeping the sweep away from them by construction.
func (r *DealRepo) ListPastDeadline(ctx context.Context, statuses []string, now time.Time, limit int) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = ANY($1) AND deadline < $2
		ORDER BY deadline ASC LIMIT $3
	`, statuses, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		d, err := r.scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, nil
}

// UpdateStatusIf performs a guarded transition: the row changes only if it
// is still in the expected status. Returns false when the guard failed,
// which callers treat as "someone else already moved it".
func (r *DealRepo) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET status = $1, updated_at = now() WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkLocked is the deposit-observation transition; the status guard makes
// repeated monitor ticks idempotent.
func (r *DealRepo) MarkLocked(ctx context.Context, id uuid.UUID, depositTxHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET status = 'locked', deposit_tx_hash = $1, updated_at = now()
		WHERE id = $2 AND status = 'waiting_for_deposit'
	`, depositTxHash, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *DealRepo) SetBuyerAddress(ctx context.Context, id uuid.UUID, addr string) error {
	_, err := r.pool.Exec(ctx, `UPDATE deals SET buyer_address = $1, updated_at = now() WHERE id = $2`, addr, id)
	return err
}

func (r *DealRepo) SetSellerAddress(ctx context.Context, id uuid.UUID, addr string) error {
	_, err := r.pool.Exec(ctx, `UPDATE deals SET seller_address = $1, updated_at = now() WHERE id = $2`, addr, id)
	return err
}

func (r *DealRepo) SetPendingValidation(ctx context.Context, id uuid.UUID, validationType *string) error {
	_, err := r.pool.Exec(ctx, `UPDATE deals SET pending_key_validation = $1, updated_at = now() WHERE id = $2`, validationType, id)
	return err
}

// Finalize stamps a deal terminal after a successful payout. Guarded
// against deals that already reached a terminal state; a disputed deal can
// only leave through `resolved`, never around the arbiter.
func (r *DealRepo) Finalize(ctx context.Context, id uuid.UUID, to string) (bool, error) {
	if !models.IsTerminal(to) {
		return false, fmt.Errorf("finalize target %q is not terminal", to)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET status = $1, pending_key_validation = NULL, completed_at = now(), updated_at = now()
		WHERE id = $2 AND (status IN ('locked', 'in_progress') OR (status = 'dispute' AND $1 = 'resolved'))
	`, to, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
