package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/escrow-desk/backend/internal/chain"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/resources"
	"github.com/escrow-desk/backend/internal/sessions"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// rentAttempts is how many times the market is asked before falling back to
// a direct top-up.
const rentAttempts = 2

const payoutLockTTL = 5 * time.Minute

// PayoutService turns an authorized payout decision into confirmed on-chain
// transfers: principal to the recipient, commission to the service. Runs for
// the same escrow wallet are serialized; a second concurrent transfer would
// starve the first of acquired resources.
type PayoutService struct {
	deals     DealStore
	wallets   WalletStore
	txs       TransactionStore
	costs     CostStore
	sessions  sessions.Store
	chain     chain.Client
	market    resources.Market
	cipher    *chain.KeyCipher
	publisher events.Publisher
	audit     AuditStore
	cfg       *config.Config
	log       *zap.Logger

	walletLocks sync.Map // multisig address -> *sync.Mutex
}

func NewPayoutService(
	deals DealStore,
	wallets WalletStore,
	txs TransactionStore,
	costs CostStore,
	sessionStore sessions.Store,
	chainClient chain.Client,
	market resources.Market,
	cipher *chain.KeyCipher,
	publisher events.Publisher,
	audit AuditStore,
	cfg *config.Config,
	log *zap.Logger,
) *PayoutService {
	return &PayoutService{
		deals:     deals,
		wallets:   wallets,
		txs:       txs,
		costs:     costs,
		sessions:  sessionStore,
		chain:     chainClient,
		market:    market,
		cipher:    cipher,
		publisher: publisher,
		audit:     audit,
		cfg:       cfg,
		log:       log,
	}
}

// Execute runs the full payout sequence for an already-authorized decision.
// validationType selects the recipient (release -> seller, refund -> buyer);
// finalStatus is the terminal state the deal reaches on success.
func (s *PayoutService) Execute(ctx context.Context, deal *models.Deal, validationType, finalStatus string) error {
	wallet, err := s.wallets.GetByDealID(ctx, deal.ID)
	if err != nil {
		return fmt.Errorf("load escrow wallet for deal %s: %w", deal.DealID, err)
	}

	unlock, err := s.lockWallet(ctx, wallet.Address)
	if err != nil {
		return err
	}
	defer unlock()

	// 1-2. Balance and payable amount.
	balance, err := s.chain.GetBalance(ctx, wallet.Address)
	if err != nil {
		return fmt.Errorf("query escrow balance: %w", err)
	}
	if balance.Sign() <= 0 {
		return fmt.Errorf("%w: deal %s", ErrInsufficientBalance, deal.DealID)
	}

	commission, err := deal.CommissionNano()
	if err != nil {
		return err
	}
	payout := new(big.Int).Sub(balance, commission)
	if payout.Sign() <= 0 {
		return fmt.Errorf("%w: deal %s balance %s commission %s",
			ErrBalanceTooLow, deal.DealID, models.FormatTON(balance), models.FormatTON(commission))
	}

	dest, err := deal.PayoutAddress(validationType)
	if err != nil {
		return err
	}

	seed, err := s.cipher.Decrypt(wallet.EncryptedSeed)
	if err != nil {
		return fmt.Errorf("unlock custodial seed for deal %s: %w", deal.DealID, err)
	}

	// 3. Resource acquisition, sized to principal + commission. Fallback
	// (direct top-up) runs at most once per payout run.
	acq, err := s.acquireResources(ctx, deal, wallet.Address, dest, payout, commission)
	if err != nil {
		return err
	}

	// 4. Principal transfer. Failure is fatal for this run: no row is
	// recorded and the deal stays in its last safe state for a retry.
	kind := models.TxKindRelease
	if validationType == models.ValidationRefund {
		kind = models.TxKindRefund
	}
	principalHash, err := s.chain.Transfer(ctx, seed, dest, payout, "escrow payout "+deal.DealID)
	if err != nil {
		s.publishPayoutFailed(ctx, deal, "principal")
		return fmt.Errorf("%w: deal %s principal: %v", ErrBroadcastFailed, deal.DealID, err)
	}
	s.recordTx(ctx, deal.ID, kind, principalHash, payout, wallet.Address, dest)

	// 5. Commission transfer. A failure here never rolls back the
	// confirmed principal; the discrepancy lands in the cost ledger.
	var feePending *big.Int
	if commission.Sign() > 0 && s.cfg.ServiceFeeAddress != "" {
		if err := s.ensureCommissionFunds(ctx, wallet.Address, commission, &acq); err != nil {
			s.log.Warn("commission sufficiency check failed",
				zap.String("deal_id", deal.DealID), zap.Error(err))
		}
		feeHash, err := s.chain.Transfer(ctx, seed, s.cfg.ServiceFeeAddress, commission, "escrow commission "+deal.DealID)
		if err != nil {
			feePending = commission
			s.log.Error("commission transfer failed after principal confirmed",
				zap.String("deal_id", deal.DealID),
				zap.String("commission", models.FormatTON(commission)),
				zap.Error(err),
			)
			s.publishPayoutFailed(ctx, deal, "commission")
			_ = s.audit.Log(ctx, models.AuditLog{
				ActorType:  "system",
				Action:     "commission_transfer_failed",
				EntityType: "deal",
				EntityID:   &deal.ID,
				Meta:       map[string]any{"commission": models.FormatTON(commission)},
			})
		} else {
			s.recordTx(ctx, deal.ID, models.TxKindFee, feeHash, commission, wallet.Address, s.cfg.ServiceFeeAddress)
		}
	}

	// 6. Finalize the deal.
	finalized, err := s.deals.Finalize(ctx, deal.ID, finalStatus)
	if err != nil {
		return fmt.Errorf("finalize deal %s: %w", deal.DealID, err)
	}
	if !finalized {
		s.log.Warn("deal already finalized by another actor", zap.String("deal_id", deal.DealID))
	}

	// 7. Sweep unspent fallback top-up, net of the fee reserve.
	if acq.Method == models.AcquisitionFallback {
		s.sweepRemainder(ctx, deal, wallet.Address, seed, &acq)
	}

	cost := models.NewOperationCost(deal.ID, acq, feePending)
	if err := s.costs.Create(ctx, &cost); err != nil {
		s.log.Error("failed to record operation cost", zap.String("deal_id", deal.DealID), zap.Error(err))
	}

	eventType := events.EventDealCompleted
	if finalStatus == models.DealStatusExpired {
		eventType = events.EventDealExpired
	}
	_ = s.publisher.Publish(ctx, events.StreamDeals, events.Event{
		Type: eventType,
		Payload: map[string]any{
			"deal_id":      deal.DealID,
			"buyer_id":     deal.BuyerID,
			"seller_id":    deal.SellerID,
			"final_status": finalStatus,
			"payout":       models.FormatTON(payout),
			"tx_hash":      principalHash,
		},
	})

	s.log.Info("payout executed",
		zap.String("deal_id", deal.DealID),
		zap.String("validation_type", validationType),
		zap.String("payout", models.FormatTON(payout)),
		zap.String("acquisition", acq.Method),
	)
	return nil
}

// acquireResources prefers renting from the market, sized to the estimated
// cost of both transfers; if the market is disabled or rental keeps failing
// it funds the wallet directly with the fixed top-up, exactly once.
func (s *PayoutService) acquireResources(ctx context.Context, deal *models.Deal, walletAddr, dest string, payout, commission *big.Int) (models.ResourceAcquisition, error) {
	if s.market.Enabled() {
		total := new(big.Int).Add(payout, commission)
		units, err := s.market.Estimate(ctx, walletAddr, dest, total)
		if err == nil {
			for attempt := 1; attempt <= rentAttempts; attempt++ {
				res, rentErr := s.market.Rent(ctx, walletAddr, units, s.cfg.ResourceRentDuration)
				if rentErr == nil {
					return models.RentedAcquisition(res.Cost), nil
				}
				s.log.Warn("resource rental failed",
					zap.String("deal_id", deal.DealID),
					zap.Int("attempt", attempt),
					zap.Error(rentErr),
				)
			}
		} else {
			s.log.Warn("resource estimate failed", zap.String("deal_id", deal.DealID), zap.Error(err))
		}
	}

	if s.cfg.ServiceWalletSeed == "" {
		return models.ResourceAcquisition{}, fmt.Errorf("%w: market unavailable and no service wallet configured", ErrResourceAcquisition)
	}

	topup, err := models.ParseTON(s.cfg.FallbackTopupTON)
	if err != nil {
		return models.ResourceAcquisition{}, fmt.Errorf("invalid fallback top-up amount: %w", err)
	}

	hash, err := s.chain.Transfer(ctx, s.cfg.ServiceWalletSeed, walletAddr, topup, "escrow resource top-up "+deal.DealID)
	if err != nil {
		return models.ResourceAcquisition{}, fmt.Errorf("%w: fallback top-up: %v", ErrResourceAcquisition, err)
	}
	s.recordTx(ctx, deal.ID, models.TxKindTopup, hash, topup, "", walletAddr)

	s.log.Info("fallback top-up funded",
		zap.String("deal_id", deal.DealID),
		zap.String("amount", models.FormatTON(topup)),
	)
	return models.FallbackAcquisition(topup), nil
}

// ensureCommissionFunds re-checks that the wallet can still carry the
// commission transfer; rented capacity normally covers it because the
// rental was sized to both transfers, so only the fallback path tops up.
func (s *PayoutService) ensureCommissionFunds(ctx context.Context, walletAddr string, commission *big.Int, acq *models.ResourceAcquisition) error {
	balance, err := s.chain.GetBalance(ctx, walletAddr)
	if err != nil {
		return err
	}
	if balance.Cmp(commission) >= 0 {
		return nil
	}
	if acq.Method != models.AcquisitionFallback || s.cfg.ServiceWalletSeed == "" {
		return nil
	}

	topup, err := models.ParseTON(s.cfg.FallbackTopupTON)
	if err != nil {
		return err
	}
	if _, err := s.chain.Transfer(ctx, s.cfg.ServiceWalletSeed, walletAddr, topup, "escrow commission top-up"); err != nil {
		return err
	}
	acq.Sent = new(big.Int).Add(acq.Sent, topup)
	return nil
}

func (s *PayoutService) sweepRemainder(ctx context.Context, deal *models.Deal, walletAddr, seed string, acq *models.ResourceAcquisition) {
	if s.cfg.ServiceFeeAddress == "" {
		return
	}

	balance, err := s.chain.GetBalance(ctx, walletAddr)
	if err != nil {
		s.log.Warn("sweep balance check failed", zap.String("deal_id", deal.DealID), zap.Error(err))
		return
	}

	reserve, err := models.ParseTON(s.cfg.SweepReserveTON)
	if err != nil {
		reserve = big.NewInt(0)
	}

	remainder := new(big.Int).Sub(balance, reserve)
	if remainder.Sign() <= 0 {
		return
	}

	hash, err := s.chain.Transfer(ctx, seed, s.cfg.ServiceFeeAddress, remainder, "escrow sweep "+deal.DealID)
	if err != nil {
		s.log.Warn("sweep transfer failed", zap.String("deal_id", deal.DealID), zap.Error(err))
		return
	}
	s.recordTx(ctx, deal.ID, models.TxKindSweep, hash, remainder, walletAddr, s.cfg.ServiceFeeAddress)
	acq.Returned = new(big.Int).Add(acq.Returned, remainder)
}

func (s *PayoutService) recordTx(ctx context.Context, dealID uuid.UUID, kind, hash string, amount *big.Int, from, to string) {
	t := models.Transaction{
		DealID:      dealID,
		Kind:        kind,
		TxHash:      hash,
		Amount:      models.FormatTON(amount),
		FromAddress: from,
		ToAddress:   to,
		Status:      models.TxStatusConfirmed,
	}
	if err := s.txs.Create(ctx, &t); err != nil {
		s.log.Error("failed to record transaction",
			zap.String("kind", kind),
			zap.String("tx_hash", hash),
			zap.Error(err),
		)
	}
}

func (s *PayoutService) publishPayoutFailed(ctx context.Context, deal *models.Deal, stage string) {
	_ = s.publisher.Publish(ctx, events.StreamDeals, events.Event{
		Type: events.EventDealPayoutFailed,
		Payload: map[string]any{
			"deal_id":   deal.DealID,
			"buyer_id":  deal.BuyerID,
			"seller_id": deal.SellerID,
			"stage":     stage,
			"support":   s.cfg.SupportContact,
		},
	})
}

// lockWallet serializes payout runs per escrow wallet: an in-process mutex
// plus a Redis advisory lock covering multi-process deployments.
func (s *PayoutService) lockWallet(ctx context.Context, addr string) (func(), error) {
	v, _ := s.walletLocks.LoadOrStore(addr, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()

	ok, err := s.sessions.Acquire(ctx, addr, sessions.PurposePayoutLock, payoutLockTTL)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("acquire payout lock: %w", err)
	}
	if !ok {
		mu.Unlock()
		return nil, ErrPayoutInProgress
	}

	return func() {
		_ = s.sessions.Release(context.WithoutCancel(ctx), addr, sessions.PurposePayoutLock)
		mu.Unlock()
	}, nil
}
