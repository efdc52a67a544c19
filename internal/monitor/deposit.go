package monitor

import (
	"context"
	"math/big"
	"time"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sweepBatchSize = 200

// DealSource is what the deposit monitor needs from deal storage. MarkLocked
// is guarded on the waiting status, so repeated sweeps over the same deal
// lock it at most once.
type DealSource interface {
	ListByStatus(ctx context.Context, status string, limit int) ([]models.Deal, error)
	MarkLocked(ctx context.Context, id uuid.UUID, depositTxHash string) (bool, error)
}

// Ledger is the chain surface the monitors poll.
type Ledger interface {
	GetBalance(ctx context.Context, addr string) (*big.Int, error)
	LastTransactionID(ctx context.Context, addr string) (string, error)
}

// DepositMonitor polls escrow wallets of deals waiting for a deposit and
// locks each deal once the confirmed balance covers the required amount.
type DepositMonitor struct {
	deals     DealSource
	ledger    Ledger
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger

	failures int // consecutive ledger failures, reset on any success
}

func NewDepositMonitor(deals DealSource, ledger Ledger, publisher events.Publisher, cfg *config.Config, log *zap.Logger) *DepositMonitor {
	return &DepositMonitor{
		deals:     deals,
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *DepositMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.DepositPollInterval)
	defer ticker.Stop()

	m.log.Info("deposit monitor started", zap.Duration("interval", m.cfg.DepositPollInterval))
	for {
		select {
		case <-ctx.Done():
			m.log.Info("deposit monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one sweep. Ledger failures skip the affected deal and leave it
// for the next sweep; nothing is lost because the wallet keeps the funds
// regardless of when the monitor notices.
func (m *DepositMonitor) Tick(ctx context.Context) {
	deals, err := m.deals.ListByStatus(ctx, models.DealStatusWaitingDeposit, sweepBatchSize)
	if err != nil {
		m.log.Error("deposit sweep: list deals failed", zap.Error(err))
		return
	}

	for i := range deals {
		deal := &deals[i]
		if deal.MultisigAddress == nil {
			m.log.Error("deal waiting for deposit has no escrow address", zap.String("deal_id", deal.DealID))
			continue
		}

		balance, err := m.ledger.GetBalance(ctx, *deal.MultisigAddress)
		if err != nil {
			m.ledgerFailure("balance query failed", deal.DealID, err)
			continue
		}
		m.failures = 0

		required, err := deal.RequiredDeposit()
		if err != nil {
			m.log.Error("invalid deal amounts", zap.String("deal_id", deal.DealID), zap.Error(err))
			continue
		}
		if balance.Cmp(required) < 0 {
			continue
		}

		txID, err := m.ledger.LastTransactionID(ctx, *deal.MultisigAddress)
		if err != nil {
			m.ledgerFailure("transaction lookup failed", deal.DealID, err)
			continue
		}

		locked, err := m.deals.MarkLocked(ctx, deal.ID, txID)
		if err != nil {
			m.log.Error("failed to lock deal", zap.String("deal_id", deal.DealID), zap.Error(err))
			continue
		}
		if !locked {
			// Another sweep or instance got there first.
			continue
		}

		m.log.Info("deposit confirmed, deal locked",
			zap.String("deal_id", deal.DealID),
			zap.String("balance", models.FormatTON(balance)),
			zap.String("required", models.FormatTON(required)),
		)
		_ = m.publisher.Publish(ctx, events.StreamDeals, events.Event{
			Type: events.EventDealLocked,
			Payload: map[string]any{
				"deal_id":   deal.DealID,
				"buyer_id":  deal.BuyerID,
				"seller_id": deal.SellerID,
				"amount":    deal.Amount,
				"tx_id":     txID,
			},
		})
	}
}

func (m *DepositMonitor) ledgerFailure(msg, dealID string, err error) {
	m.failures++
	if m.failures >= m.cfg.LedgerErrorThreshold {
		m.log.Error("deposit sweep: "+msg,
			zap.String("deal_id", dealID),
			zap.Int("consecutive_failures", m.failures),
			zap.Error(err),
		)
		return
	}
	m.log.Warn("deposit sweep: "+msg, zap.String("deal_id", dealID), zap.Error(err))
}
