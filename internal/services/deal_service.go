package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/escrow-desk/backend/internal/chain"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/repositories"
	"go.uber.org/zap"
)

// GateController is the slice of the key gate the deal service drives.
type GateController interface {
	Open(ctx context.Context, deal *models.Deal, validationType, finalStatus string) error
	Close(ctx context.Context, deal *models.Deal) error
}

// DealService owns the deal lifecycle up to the point where funds move:
// creation, party address supply, work submission, acceptance, disputes and
// cancellation. Settlement itself goes through the gate.
type DealService struct {
	deals     DealStore
	wallets   WalletStore
	chain     chain.Client
	cipher    *chain.KeyCipher
	gate      GateController
	publisher events.Publisher
	audit     AuditStore
	cfg       *config.Config
	log       *zap.Logger
}

func NewDealService(
	deals DealStore,
	wallets WalletStore,
	chainClient chain.Client,
	cipher *chain.KeyCipher,
	gate GateController,
	publisher events.Publisher,
	audit AuditStore,
	cfg *config.Config,
	log *zap.Logger,
) *DealService {
	return &DealService{
		deals:     deals,
		wallets:   wallets,
		chain:     chainClient,
		cipher:    cipher,
		gate:      gate,
		publisher: publisher,
		audit:     audit,
		cfg:       cfg,
		log:       log,
	}
}

type CreateDealInput struct {
	BuyerID        string
	SellerID       string
	BuyerAddress   string // optional at creation
	SellerAddress  string // optional at creation
	Amount         string // decimal TON
	Commission     string // decimal TON
	CommissionType string
	Deadline       time.Time
	Context        string // free-form deal subject, part of the duplicate key
}

// CreatedDeal carries the one-time party secrets alongside the stored deal.
// The secrets exist only in this response; afterwards only their hashes
// remain.
type CreatedDeal struct {
	Deal            *models.Deal `json:"deal"`
	DepositAddress  string       `json:"deposit_address"`
	RequiredDeposit string       `json:"required_deposit"`
	BuyerSecret     string       `json:"buyer_secret"`
	SellerSecret    string       `json:"seller_secret"`
}

// CreateDeal validates the terms, provisions a dedicated escrow wallet with
// a fresh key for each party, and stores the deal in its initial waiting
// state.
func (s *DealService) CreateDeal(ctx context.Context, in CreateDealInput) (*CreatedDeal, error) {
	if err := s.validateTerms(in); err != nil {
		return nil, err
	}

	uniqueKey := dealUniqueKey(in.BuyerID, in.SellerID, in.Context)
	active, err := s.deals.HasActiveDeal(ctx, uniqueKey)
	if err != nil {
		return nil, fmt.Errorf("check active deals: %w", err)
	}
	if active {
		return nil, ErrDuplicateDeal
	}

	addr, seedWords, err := s.chain.NewDealWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("provision escrow wallet: %w", err)
	}
	encryptedSeed, err := s.cipher.Encrypt(seedWords)
	if err != nil {
		return nil, fmt.Errorf("seal escrow wallet seed: %w", err)
	}

	buyerKey, err := chain.NewPartyKey()
	if err != nil {
		return nil, err
	}
	sellerKey, err := chain.NewPartyKey()
	if err != nil {
		return nil, err
	}

	deal := &models.Deal{
		DealID:          newDealRef(),
		UniqueKey:       uniqueKey,
		BuyerID:         in.BuyerID,
		SellerID:        in.SellerID,
		Amount:          in.Amount,
		Asset:           "TON",
		Commission:      in.Commission,
		CommissionType:  in.CommissionType,
		Deadline:        in.Deadline.UTC(),
		MultisigAddress: &addr,
		Status:          models.DealStatusCreated,
	}
	if in.BuyerAddress != "" {
		if !s.chain.ValidateAddress(in.BuyerAddress) {
			return nil, fmt.Errorf("invalid buyer address %q", in.BuyerAddress)
		}
		deal.BuyerAddress = &in.BuyerAddress
	}
	if in.SellerAddress != "" {
		if !s.chain.ValidateAddress(in.SellerAddress) {
			return nil, fmt.Errorf("invalid seller address %q", in.SellerAddress)
		}
		deal.SellerAddress = &in.SellerAddress
	}

	if err := s.deals.Create(ctx, deal); err != nil {
		// The partial unique index catches creates that raced past the
		// HasActiveDeal check.
		if errors.Is(err, repositories.ErrDuplicateActiveDeal) {
			return nil, ErrDuplicateDeal
		}
		return nil, fmt.Errorf("store deal: %w", err)
	}

	wallet := &models.EscrowWallet{
		DealID:           deal.ID,
		Address:          addr,
		BuyerPubKey:      buyerKey.PubKey,
		SellerPubKey:     sellerKey.PubKey,
		ArbiterPubKey:    s.cfg.ArbiterPubKey,
		EncryptedSeed:    encryptedSeed,
		BuyerSecretHash:  chain.HashSecret(buyerKey.Secret),
		SellerSecretHash: chain.HashSecret(sellerKey.Secret),
	}
	if err := s.wallets.Create(ctx, wallet); err != nil {
		return nil, fmt.Errorf("store escrow wallet: %w", err)
	}

	next := initialWaitState(deal)
	if err := s.transition(ctx, deal, next, nil, "system"); err != nil {
		return nil, err
	}

	required, err := deal.RequiredDeposit()
	if err != nil {
		return nil, err
	}

	_ = s.publisher.Publish(ctx, events.StreamDeals, events.Event{
		Type: events.EventDealCreated,
		Payload: map[string]any{
			"deal_id":          deal.DealID,
			"buyer_id":         deal.BuyerID,
			"seller_id":        deal.SellerID,
			"amount":           deal.Amount,
			"deposit_address":  addr,
			"required_deposit": models.FormatTON(required),
			"deadline":         deal.Deadline,
		},
	})

	s.log.Info("deal created",
		zap.String("deal_id", deal.DealID),
		zap.String("amount", deal.Amount),
		zap.String("commission_type", deal.CommissionType),
	)

	return &CreatedDeal{
		Deal:            deal,
		DepositAddress:  addr,
		RequiredDeposit: models.FormatTON(required),
		BuyerSecret:     buyerKey.Secret,
		SellerSecret:    sellerKey.Secret,
	}, nil
}

// SupplyAddress records a party's settlement address. Once both sides have
// one the deal advances to waiting for the deposit.
func (s *DealService) SupplyAddress(ctx context.Context, dealID, partyID, addr string) (*models.Deal, error) {
	deal, err := s.deals.GetByDealID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !s.chain.ValidateAddress(addr) {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	exists, err := s.chain.AddressExists(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("check address on chain: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("address %s is not active on chain", addr)
	}

	switch partyID {
	case deal.BuyerID:
		if err := s.deals.SetBuyerAddress(ctx, deal.ID, addr); err != nil {
			return nil, err
		}
		deal.BuyerAddress = &addr
	case deal.SellerID:
		if err := s.deals.SetSellerAddress(ctx, deal.ID, addr); err != nil {
			return nil, err
		}
		deal.SellerAddress = &addr
	default:
		return nil, fmt.Errorf("party %s is not on deal %s", partyID, dealID)
	}

	if deal.Status == models.DealStatusWaitingSellerWallet || deal.Status == models.DealStatusWaitingBuyerWallet {
		if next := initialWaitState(deal); next != deal.Status {
			if err := s.transition(ctx, deal, next, &partyID, "party"); err != nil {
				return nil, err
			}
		}
	}
	return deal, nil
}

// SubmitWork moves a funded deal into in_progress; only the seller can do it.
func (s *DealService) SubmitWork(ctx context.Context, dealID, partyID string) (*models.Deal, error) {
	deal, err := s.deals.GetByDealID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if partyID != deal.SellerID {
		return nil, fmt.Errorf("only the seller can submit work on deal %s", dealID)
	}
	if deal.Status != models.DealStatusLocked {
		return nil, fmt.Errorf("deal %s is %s, work can only be submitted while locked", dealID, deal.Status)
	}
	if err := s.transition(ctx, deal, models.DealStatusInProgress, &partyID, "seller"); err != nil {
		return nil, err
	}
	return deal, nil
}

// Accept is the buyer approving delivered work: it opens a release gate so
// the seller authorizes their own payout.
func (s *DealService) Accept(ctx context.Context, dealID, partyID string) (*models.Deal, error) {
	deal, err := s.deals.GetByDealID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if partyID != deal.BuyerID {
		return nil, fmt.Errorf("only the buyer can accept work on deal %s", dealID)
	}
	if deal.Status != models.DealStatusInProgress {
		return nil, fmt.Errorf("deal %s is %s, nothing to accept", dealID, deal.Status)
	}
	if err := s.gate.Open(ctx, deal, models.ValidationRelease, models.DealStatusCompleted); err != nil {
		return nil, err
	}
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorID:    &partyID,
		ActorType:  "buyer",
		Action:     "work_accepted",
		EntityType: "deal",
		EntityID:   &deal.ID,
	})
	return deal, nil
}

// OpenDispute freezes settlement of a funded deal until an arbiter decides.
func (s *DealService) OpenDispute(ctx context.Context, dealID, partyID, reason string) (*models.Deal, error) {
	deal, err := s.deals.GetByDealID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if partyID != deal.BuyerID && partyID != deal.SellerID {
		return nil, fmt.Errorf("party %s is not on deal %s", partyID, dealID)
	}
	if deal.Status != models.DealStatusLocked && deal.Status != models.DealStatusInProgress {
		return nil, fmt.Errorf("deal %s is %s, disputes require a funded deal", dealID, deal.Status)
	}
	if err := s.transition(ctx, deal, models.DealStatusDispute, &partyID, "party"); err != nil {
		return nil, err
	}
	// A dispute supersedes any pending payout authorization: whatever gate
	// was open for this deal must not settle it anymore.
	if err := s.gate.Close(ctx, deal); err != nil {
		return nil, err
	}
	_ = s.publisher.Publish(ctx, events.StreamDeals, events.Event{
		Type: events.EventDealDisputeOpened,
		Payload: map[string]any{
			"deal_id":   deal.DealID,
			"buyer_id":  deal.BuyerID,
			"seller_id": deal.SellerID,
			"opened_by": partyID,
			"reason":    reason,
		},
	})
	return deal, nil
}

// ResolveDispute records the arbiter's decision and opens the matching gate:
// the winner still authorizes their own payout with their secret.
func (s *DealService) ResolveDispute(ctx context.Context, dealID, arbiterID, winner string) (*models.Deal, error) {
	deal, err := s.deals.GetByDealID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != models.DealStatusDispute {
		return nil, fmt.Errorf("deal %s is %s, no dispute to resolve", dealID, deal.Status)
	}

	var validationType string
	switch winner {
	case "buyer":
		validationType = models.ValidationRefund
	case "seller":
		validationType = models.ValidationRelease
	default:
		return nil, fmt.Errorf("unknown dispute winner %q", winner)
	}

	if err := s.gate.Open(ctx, deal, validationType, models.DealStatusResolved); err != nil {
		return nil, err
	}
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorID:    &arbiterID,
		ActorType:  "arbiter",
		Action:     "dispute_resolved",
		EntityType: "deal",
		EntityID:   &deal.ID,
		Meta:       map[string]any{"winner": winner},
	})
	return deal, nil
}

// Cancel withdraws an unfunded deal. Funded deals can only end through a
// payout or a dispute.
func (s *DealService) Cancel(ctx context.Context, dealID, partyID string) (*models.Deal, error) {
	deal, err := s.deals.GetByDealID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if partyID != deal.BuyerID && partyID != deal.SellerID {
		return nil, fmt.Errorf("party %s is not on deal %s", partyID, dealID)
	}
	switch deal.Status {
	case models.DealStatusCreated, models.DealStatusWaitingSellerWallet,
		models.DealStatusWaitingBuyerWallet, models.DealStatusWaitingDeposit:
	default:
		return nil, fmt.Errorf("deal %s is %s and can no longer be cancelled", dealID, deal.Status)
	}
	if err := s.transition(ctx, deal, models.DealStatusCancelled, &partyID, "party"); err != nil {
		return nil, err
	}
	return deal, nil
}

func (s *DealService) GetDeal(ctx context.Context, dealID string) (*models.Deal, error) {
	return s.deals.GetByDealID(ctx, dealID)
}

func (s *DealService) ListDeals(ctx context.Context, f repositories.DealFilter) ([]models.Deal, error) {
	return s.deals.List(ctx, f)
}

// transition applies a guarded status change, records it and emits the
// status event. A lost race (guard matched zero rows) is an error for the
// caller to surface.
func (s *DealService) transition(ctx context.Context, deal *models.Deal, to string, actorID *string, actorType string) error {
	from := deal.Status
	if !models.IsValidTransition(from, to) {
		return fmt.Errorf("deal %s: transition %s -> %s is not allowed", deal.DealID, from, to)
	}
	ok, err := s.deals.UpdateStatusIf(ctx, deal.ID, from, to)
	if err != nil {
		return fmt.Errorf("update deal %s status: %w", deal.DealID, err)
	}
	if !ok {
		return fmt.Errorf("deal %s changed concurrently, retry", deal.DealID)
	}
	deal.Status = to

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorID:    actorID,
		ActorType:  actorType,
		Action:     "status_changed",
		EntityType: "deal",
		EntityID:   &deal.ID,
		Meta:       map[string]any{"from": from, "to": to},
	})
	_ = s.publisher.Publish(ctx, events.StreamDeals, events.Event{
		Type: events.EventDealStatusChanged,
		Payload: map[string]any{
			"deal_id":   deal.DealID,
			"buyer_id":  deal.BuyerID,
			"seller_id": deal.SellerID,
			"from":      from,
			"to":        to,
		},
	})
	return nil
}

func (s *DealService) validateTerms(in CreateDealInput) error {
	if in.BuyerID == "" || in.SellerID == "" {
		return fmt.Errorf("both buyer and seller ids are required")
	}
	if in.BuyerID == in.SellerID {
		return fmt.Errorf("buyer and seller must be different parties")
	}
	if !models.IsValidCommissionType(in.CommissionType) {
		return fmt.Errorf("unknown commission type %q", in.CommissionType)
	}
	amount, err := models.ParseTON(in.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	minAmount, err := models.ParseTON(s.cfg.MinDealAmountTON)
	if err != nil {
		return fmt.Errorf("invalid minimum amount configured: %w", err)
	}
	if amount.Cmp(minAmount) < 0 {
		return fmt.Errorf("amount %s is below the minimum of %s TON", in.Amount, s.cfg.MinDealAmountTON)
	}
	commission, err := models.ParseTON(in.Commission)
	if err != nil {
		return fmt.Errorf("invalid commission: %w", err)
	}
	if in.CommissionType != models.CommissionBuyer && commission.Cmp(amount) >= 0 {
		return fmt.Errorf("commission %s would consume the whole principal", in.Commission)
	}
	if !in.Deadline.After(time.Now()) {
		return fmt.Errorf("deadline must be in the future")
	}
	return nil
}

// initialWaitState picks the first waiting state based on which settlement
// addresses arrived with the creation request.
func initialWaitState(deal *models.Deal) string {
	switch {
	case deal.SellerAddress == nil:
		return models.DealStatusWaitingSellerWallet
	case deal.BuyerAddress == nil:
		return models.DealStatusWaitingBuyerWallet
	default:
		return models.DealStatusWaitingDeposit
	}
}

func dealUniqueKey(buyerID, sellerID, dealContext string) string {
	sum := sha256.Sum256([]byte(buyerID + ":" + sellerID + ":" + dealContext))
	return hex.EncodeToString(sum[:])
}

// newDealRef produces the short human-facing reference, e.g. D-9F3A61C2.
func newDealRef() string {
	b := make([]byte, 4)
	rand.Read(b)
	return "D-" + strings.ToUpper(hex.EncodeToString(b))
}
