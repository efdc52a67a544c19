package monitor

import (
	"context"
	"time"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/sessions"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// warnMarkerTTL keeps the phase-1 marker around well past any grace period
// so a deal is never warned twice.
const warnMarkerTTL = 14 * 24 * time.Hour

// DeadlineSource is what the deadline monitor needs from deal storage.
type DeadlineSource interface {
	ListPastDeadline(ctx context.Context, statuses []string, now time.Time, limit int) ([]models.Deal, error)
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
}

// GateOpener opens a key-validation window; Open is idempotent per deal.
type GateOpener interface {
	Open(ctx context.Context, deal *models.Deal, validationType, finalStatus string) error
}

type warnMarker struct {
	WarnedAt time.Time `json:"warned_at"`
}

// DeadlineMonitor sweeps deals past their deadline. Funded deals get a
// two-phase treatment: a warning first, then after the grace period a gate
// opens toward refund (no work submitted) or release (work submitted).
// Unfunded deals are closed outright. Disputed and terminal deals are never
// touched; the arbiter owns disputed funds.
type DeadlineMonitor struct {
	deals     DeadlineSource
	gate      GateOpener
	sessions  sessions.Store
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger

	now func() time.Time
}

func NewDeadlineMonitor(deals DeadlineSource, gate GateOpener, sessionStore sessions.Store, publisher events.Publisher, cfg *config.Config, log *zap.Logger) *DeadlineMonitor {
	return &DeadlineMonitor{
		deals:     deals,
		gate:      gate,
		sessions:  sessionStore,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

func (m *DeadlineMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.DeadlinePollInterval)
	defer ticker.Stop()

	m.log.Info("deadline monitor started", zap.Duration("interval", m.cfg.DeadlinePollInterval))
	for {
		select {
		case <-ctx.Done():
			m.log.Info("deadline monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

func (m *DeadlineMonitor) Tick(ctx context.Context) {
	now := m.now().UTC()
	m.sweepFunded(ctx, now)
	m.sweepUnfunded(ctx, now)
}

func (m *DeadlineMonitor) sweepFunded(ctx context.Context, now time.Time) {
	funded := []string{models.DealStatusLocked, models.DealStatusInProgress}
	deals, err := m.deals.ListPastDeadline(ctx, funded, now, sweepBatchSize)
	if err != nil {
		m.log.Error("deadline sweep: list funded deals failed", zap.Error(err))
		return
	}

	for i := range deals {
		deal := &deals[i]
		actor := deal.ID.String()

		var marker warnMarker
		warned, err := m.sessions.Get(ctx, actor, sessions.PurposeDeadlineWarn, &marker)
		if err != nil {
			m.log.Error("deadline sweep: marker lookup failed", zap.String("deal_id", deal.DealID), zap.Error(err))
			continue
		}

		if !warned {
			marker = warnMarker{WarnedAt: now}
			if err := m.sessions.Put(ctx, actor, sessions.PurposeDeadlineWarn, marker, warnMarkerTTL); err != nil {
				m.log.Error("deadline sweep: marker store failed", zap.String("deal_id", deal.DealID), zap.Error(err))
				continue
			}
			grace := m.gracePeriod(deal.Status)
			_ = m.publisher.Publish(ctx, events.StreamDeals, events.Event{
				Type: events.EventDealDeadlineWarning,
				Payload: map[string]any{
					"deal_id":         deal.DealID,
					"buyer_id":        deal.BuyerID,
					"seller_id":       deal.SellerID,
					"status":          deal.Status,
					"grace_ends_at":   now.Add(grace),
					"grace_remaining": int(grace.Seconds()),
				},
			})
			m.log.Info("deadline warning issued",
				zap.String("deal_id", deal.DealID),
				zap.Duration("grace", grace),
			)
			continue
		}

		if now.Sub(marker.WarnedAt) < m.gracePeriod(deal.Status) {
			continue
		}

		// Grace elapsed. A locked deal never got its work submitted, so
		// the buyer is owed a refund; an in_progress deal has delivered
		// work the buyer sat on, so the seller is owed a release.
		validationType := models.ValidationRefund
		finalStatus := models.DealStatusExpired
		if deal.Status == models.DealStatusInProgress {
			validationType = models.ValidationRelease
			finalStatus = models.DealStatusCompleted
		}
		if err := m.gate.Open(ctx, deal, validationType, finalStatus); err != nil {
			m.log.Error("deadline sweep: gate open failed",
				zap.String("deal_id", deal.DealID),
				zap.String("validation_type", validationType),
				zap.Error(err),
			)
		}
	}
}

func (m *DeadlineMonitor) sweepUnfunded(ctx context.Context, now time.Time) {
	unfunded := []string{
		models.DealStatusCreated,
		models.DealStatusWaitingSellerWallet,
		models.DealStatusWaitingBuyerWallet,
		models.DealStatusWaitingDeposit,
	}
	deals, err := m.deals.ListPastDeadline(ctx, unfunded, now, sweepBatchSize)
	if err != nil {
		m.log.Error("deadline sweep: list unfunded deals failed", zap.Error(err))
		return
	}

	for i := range deals {
		deal := &deals[i]

		// Nothing was deposited, so there is nothing to settle.
		to := models.DealStatusExpired
		if deal.Status == models.DealStatusCreated {
			to = models.DealStatusCancelled
		}
		ok, err := m.deals.UpdateStatusIf(ctx, deal.ID, deal.Status, to)
		if err != nil {
			m.log.Error("deadline sweep: close unfunded deal failed", zap.String("deal_id", deal.DealID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		m.log.Info("unfunded deal closed at deadline",
			zap.String("deal_id", deal.DealID),
			zap.String("status", to),
		)
		_ = m.publisher.Publish(ctx, events.StreamDeals, events.Event{
			Type: events.EventDealExpired,
			Payload: map[string]any{
				"deal_id":      deal.DealID,
				"buyer_id":     deal.BuyerID,
				"seller_id":    deal.SellerID,
				"final_status": to,
				"funded":       false,
			},
		})
	}
}

func (m *DeadlineMonitor) gracePeriod(status string) time.Duration {
	if status == models.DealStatusInProgress {
		return time.Duration(m.cfg.GraceProgressSeconds) * time.Second
	}
	return time.Duration(m.cfg.GraceLockedSeconds) * time.Second
}
