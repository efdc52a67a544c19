package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/escrow-desk/backend/internal/chain"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/sessions"
	"go.uber.org/zap"
)

// Gate submission outcomes.
const (
	GateOutcomeNoSession = "no_session"
	GateOutcomeAccepted  = "accepted"
	GateOutcomeRejected  = "rejected"
)

// attemptsTTL outlives the gate session so a burst of wrong secrets right
// before expiry still counts against a re-opened session.
const attemptsTTL = 2 * time.Hour

// PayoutExecutor settles an authorized deal on-chain.
type PayoutExecutor interface {
	Execute(ctx context.Context, deal *models.Deal, validationType, finalStatus string) error
}

// GateSession is the durable record of an open key-validation window. Funds
// never move without one; its absence makes Submit a no-op.
type GateSession struct {
	ValidationType string    `json:"validation_type"`
	Party          string    `json:"party"` // the only id allowed to submit
	FinalStatus    string    `json:"final_status"`
	OpenedAt       time.Time `json:"opened_at"`
}

type SubmitResult struct {
	Outcome     string `json:"outcome"`
	Attempts    int64  `json:"attempts,omitempty"`
	SupportHint string `json:"support_hint,omitempty"`
}

// KeyGate is the sole path from a funded deal to a payout: whoever the
// validation type names must reproduce their one-time secret before the
// executor runs.
type KeyGate struct {
	deals     DealStore
	wallets   WalletStore
	sessions  sessions.Store
	payout    PayoutExecutor
	publisher events.Publisher
	audit     AuditStore
	cfg       *config.Config
	log       *zap.Logger

	dealLocks sync.Map // deal uuid string -> *sync.Mutex
}

func NewKeyGate(
	deals DealStore,
	wallets WalletStore,
	sessionStore sessions.Store,
	payout PayoutExecutor,
	publisher events.Publisher,
	audit AuditStore,
	cfg *config.Config,
	log *zap.Logger,
) *KeyGate {
	return &KeyGate{
		deals:     deals,
		wallets:   wallets,
		sessions:  sessionStore,
		payout:    payout,
		publisher: publisher,
		audit:     audit,
		cfg:       cfg,
		log:       log,
	}
}

// Open starts a validation window for the deal. Re-opening while a session
// of the same type is already live is a no-op, so monitor sweeps and manual
// retries after a failed payout converge on one session.
func (g *KeyGate) Open(ctx context.Context, deal *models.Deal, validationType, finalStatus string) error {
	party, err := gateParty(deal, validationType)
	if err != nil {
		return err
	}

	actor := deal.ID.String()

	var existing GateSession
	found, err := g.sessions.Get(ctx, actor, sessions.PurposeGate, &existing)
	if err != nil {
		return fmt.Errorf("check gate session for deal %s: %w", deal.DealID, err)
	}
	if found {
		if existing.ValidationType != validationType {
			return fmt.Errorf("deal %s already has an open %s validation", deal.DealID, existing.ValidationType)
		}
		return nil
	}

	session := GateSession{
		ValidationType: validationType,
		Party:          party,
		FinalStatus:    finalStatus,
		OpenedAt:       time.Now().UTC(),
	}
	if err := g.sessions.Put(ctx, actor, sessions.PurposeGate, session, g.cfg.GateSessionTTL); err != nil {
		return fmt.Errorf("open gate session for deal %s: %w", deal.DealID, err)
	}
	if err := g.deals.SetPendingValidation(ctx, deal.ID, &validationType); err != nil {
		return fmt.Errorf("mark pending validation for deal %s: %w", deal.DealID, err)
	}

	_ = g.publisher.Publish(ctx, events.StreamDeals, events.Event{
		Type: events.EventPayoutAuthRequested,
		Payload: map[string]any{
			"deal_id":         deal.DealID,
			"party_id":        party,
			"validation_type": validationType,
			"expires_in_sec":  int(g.cfg.GateSessionTTL.Seconds()),
		},
	})
	_ = g.audit.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "gate_opened",
		EntityType: "deal",
		EntityID:   &deal.ID,
		Meta:       map[string]any{"validation_type": validationType, "party_id": party},
	})

	g.log.Info("key validation gate opened",
		zap.String("deal_id", deal.DealID),
		zap.String("validation_type", validationType),
	)
	return nil
}

// Close withdraws an open validation window: the session and its attempt
// counter are deleted and the pending flag is cleared. A dispute supersedes
// any pending payout, so opening one closes the gate through here.
func (g *KeyGate) Close(ctx context.Context, deal *models.Deal) error {
	actor := deal.ID.String()
	if err := g.sessions.Delete(ctx, actor, sessions.PurposeGate); err != nil {
		return fmt.Errorf("close gate session for deal %s: %w", deal.DealID, err)
	}
	_ = g.sessions.Delete(ctx, actor, sessions.PurposeGateAttempts)
	if err := g.deals.SetPendingValidation(ctx, deal.ID, nil); err != nil {
		g.log.Warn("failed to clear pending validation", zap.String("deal_id", deal.DealID), zap.Error(err))
	}
	_ = g.audit.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "gate_closed",
		EntityType: "deal",
		EntityID:   &deal.ID,
	})
	g.log.Info("key validation gate closed", zap.String("deal_id", deal.DealID))
	return nil
}

// Submit checks a secret against the open session. Submissions with no live
// session change nothing and reveal nothing; a match runs the payout and
// closes the session. The secret itself is never logged or stored.
func (g *KeyGate) Submit(ctx context.Context, dealID, partyID, secret string) (*SubmitResult, error) {
	deal, err := g.deals.GetByDealID(ctx, dealID)
	if err != nil {
		return nil, err
	}

	unlock := g.lockDeal(deal.ID.String())
	defer unlock()

	actor := deal.ID.String()

	var session GateSession
	found, err := g.sessions.Get(ctx, actor, sessions.PurposeGate, &session)
	if err != nil {
		return nil, fmt.Errorf("load gate session for deal %s: %w", deal.DealID, err)
	}
	if !found || session.Party != partyID {
		return &SubmitResult{Outcome: GateOutcomeNoSession}, nil
	}

	// The deal may have moved since the session was opened (a dispute in
	// particular). If its current status no longer admits the session's
	// terminal state, the session is stale: discard it instead of settling
	// the deal around the arbiter.
	if !models.IsValidTransition(deal.Status, session.FinalStatus) {
		if err := g.Close(ctx, deal); err != nil {
			return nil, err
		}
		g.log.Info("stale gate session discarded",
			zap.String("deal_id", deal.DealID),
			zap.String("status", deal.Status),
			zap.String("validation_type", session.ValidationType),
		)
		return &SubmitResult{Outcome: GateOutcomeNoSession}, nil
	}

	wallet, err := g.wallets.GetByDealID(ctx, deal.ID)
	if err != nil {
		return nil, fmt.Errorf("load escrow wallet for deal %s: %w", deal.DealID, err)
	}
	want, ok := wallet.SecretHash(session.ValidationType)
	if !ok {
		return nil, fmt.Errorf("deal %s has no stored secret for %s", deal.DealID, session.ValidationType)
	}

	got := chain.HashSecret(secret)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		attempts, incErr := g.sessions.Increment(ctx, actor, sessions.PurposeGateAttempts, attemptsTTL)
		if incErr != nil {
			g.log.Warn("failed to count gate attempt", zap.String("deal_id", deal.DealID), zap.Error(incErr))
		}
		_ = g.audit.Log(ctx, models.AuditLog{
			ActorID:    &partyID,
			ActorType:  "party",
			Action:     "gate_secret_rejected",
			EntityType: "deal",
			EntityID:   &deal.ID,
			Meta:       map[string]any{"attempts": attempts},
		})

		res := &SubmitResult{Outcome: GateOutcomeRejected, Attempts: attempts}
		if attempts >= int64(g.cfg.GateMaxAttempts) {
			res.SupportHint = fmt.Sprintf("too many failed attempts for deal %s, contact %s", deal.DealID, g.cfg.SupportContact)
		}
		return res, nil
	}

	// Accepted. Close the window before moving funds so a parallel submit
	// hits no session; the payout itself is serialized per wallet.
	if err := g.sessions.Delete(ctx, actor, sessions.PurposeGate); err != nil {
		return nil, fmt.Errorf("close gate session for deal %s: %w", deal.DealID, err)
	}
	_ = g.sessions.Delete(ctx, actor, sessions.PurposeGateAttempts)
	if err := g.deals.SetPendingValidation(ctx, deal.ID, nil); err != nil {
		g.log.Warn("failed to clear pending validation", zap.String("deal_id", deal.DealID), zap.Error(err))
	}
	_ = g.audit.Log(ctx, models.AuditLog{
		ActorID:    &partyID,
		ActorType:  "party",
		Action:     "gate_secret_accepted",
		EntityType: "deal",
		EntityID:   &deal.ID,
		Meta:       map[string]any{"validation_type": session.ValidationType},
	})

	if err := g.payout.Execute(ctx, deal, session.ValidationType, session.FinalStatus); err != nil {
		// The authorization stands; re-open the window so the payout can
		// be retried once the underlying failure clears.
		if reopenErr := g.Open(ctx, deal, session.ValidationType, session.FinalStatus); reopenErr != nil {
			g.log.Error("failed to re-open gate after payout failure",
				zap.String("deal_id", deal.DealID), zap.Error(reopenErr))
		}
		return &SubmitResult{
			Outcome:     GateOutcomeAccepted,
			SupportHint: UserMessage(err, deal.DealID, g.cfg.SupportContact),
		}, err
	}

	return &SubmitResult{Outcome: GateOutcomeAccepted}, nil
}

func gateParty(deal *models.Deal, validationType string) (string, error) {
	switch validationType {
	case models.ValidationRelease:
		return deal.SellerID, nil
	case models.ValidationRefund:
		return deal.BuyerID, nil
	default:
		return "", fmt.Errorf("unknown validation type %q", validationType)
	}
}

func (g *KeyGate) lockDeal(id string) func() {
	v, _ := g.dealLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
