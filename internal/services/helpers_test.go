package services

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/repositories"
	"github.com/escrow-desk/backend/internal/resources"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceWalletSeed:    "abandon ability able about above absent absorb abstract absurd abuse access accident",
		ServiceFeeAddress:    "EQfee0000000000000000000000000000000000000000000",
		ArbiterPubKey:        "aabbcc",
		ResourceRentDuration: 20 * time.Minute,
		FallbackTopupTON:     "1",
		SweepReserveTON:      "0.05",
		MinDealAmountTON:     "1",
		GateSessionTTL:       30 * time.Minute,
		GateMaxAttempts:      3,
		SupportContact:       "support@example.test",
		LedgerErrorThreshold: 5,
		GraceLockedSeconds:   86400,
		GraceProgressSeconds: 21600,
	}
}

// fakeDeals is an in-memory DealStore with the same guarded-update semantics
// as the SQL repository. skipActiveCheck makes HasActiveDeal blind, like a
// concurrent create racing past the pre-check.
type fakeDeals struct {
	mu              sync.Mutex
	byID            map[uuid.UUID]*models.Deal
	byRef           map[string]*models.Deal
	skipActiveCheck bool
}

func newFakeDeals(deals ...*models.Deal) *fakeDeals {
	f := &fakeDeals{byID: make(map[uuid.UUID]*models.Deal), byRef: make(map[string]*models.Deal)}
	for _, d := range deals {
		f.byID[d.ID] = d
		f.byRef[d.DealID] = d
	}
	return f
}

func (f *fakeDeals) Create(ctx context.Context, d *models.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.UniqueKey != "" {
		for _, other := range f.byID {
			if other.UniqueKey == d.UniqueKey && !models.IsTerminal(other.Status) {
				return repositories.ErrDuplicateActiveDeal
			}
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	f.byID[d.ID] = d
	f.byRef[d.DealID] = d
	return nil
}

func (f *fakeDeals) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("deal %s not found", id)
	}
	return d, nil
}

func (f *fakeDeals) GetByDealID(ctx context.Context, dealID string) (*models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byRef[dealID]
	if !ok {
		return nil, fmt.Errorf("deal %s not found", dealID)
	}
	return d, nil
}

func (f *fakeDeals) HasActiveDeal(ctx context.Context, uniqueKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.skipActiveCheck {
		return false, nil
	}
	for _, d := range f.byID {
		if d.UniqueKey == uniqueKey && !models.IsTerminal(d.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDeals) List(ctx context.Context, _ repositories.DealFilter) ([]models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Deal, 0, len(f.byID))
	for _, d := range f.byID {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeDeals) ListPastDeadline(ctx context.Context, statuses []string, now time.Time, limit int) ([]models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Deal
	for _, d := range f.byID {
		for _, s := range statuses {
			if d.Status == s && d.Deadline.Before(now) {
				out = append(out, *d)
			}
		}
	}
	return out, nil
}

func (f *fakeDeals) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	return true, nil
}

func (f *fakeDeals) SetBuyerAddress(ctx context.Context, id uuid.UUID, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].BuyerAddress = &addr
	return nil
}

func (f *fakeDeals) SetSellerAddress(ctx context.Context, id uuid.UUID, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].SellerAddress = &addr
	return nil
}

func (f *fakeDeals) SetPendingValidation(ctx context.Context, id uuid.UUID, validationType *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].PendingKeyValidation = validationType
	return nil
}

func (f *fakeDeals) Finalize(ctx context.Context, id uuid.UUID, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok || !models.IsTerminal(to) {
		return false, nil
	}
	switch d.Status {
	case models.DealStatusLocked, models.DealStatusInProgress:
	case models.DealStatusDispute:
		if to != models.DealStatusResolved {
			return false, nil
		}
	default:
		return false, nil
	}
	now := time.Now().UTC()
	d.Status = to
	d.CompletedAt = &now
	d.PendingKeyValidation = nil
	return true, nil
}

type fakeWallets struct {
	mu      sync.Mutex
	byDeal  map[uuid.UUID]*models.EscrowWallet
	created []*models.EscrowWallet
}

func newFakeWallets(wallets ...*models.EscrowWallet) *fakeWallets {
	f := &fakeWallets{byDeal: make(map[uuid.UUID]*models.EscrowWallet)}
	for _, w := range wallets {
		f.byDeal[w.DealID] = w
	}
	return f
}

func (f *fakeWallets) Create(ctx context.Context, w *models.EscrowWallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byDeal[w.DealID] = w
	f.created = append(f.created, w)
	return nil
}

func (f *fakeWallets) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.EscrowWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.byDeal[dealID]
	if !ok {
		return nil, fmt.Errorf("wallet for deal %s not found", dealID)
	}
	return w, nil
}

type fakeTxs struct {
	mu   sync.Mutex
	rows []models.Transaction
}

func (f *fakeTxs) Create(ctx context.Context, t *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *t)
	return nil
}

func (f *fakeTxs) byKind(kind string) []models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, t := range f.rows {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

type fakeCosts struct {
	mu   sync.Mutex
	rows []models.OperationCost
}

func (f *fakeCosts) Create(ctx context.Context, c *models.OperationCost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *c)
	return nil
}

type fakeAudit struct {
	mu   sync.Mutex
	rows []models.AuditLog
}

func (f *fakeAudit) Log(ctx context.Context, entry models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, entry)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(ctx context.Context, stream string, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) ofType(t string) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type transferRecord struct {
	Seed   string
	To     string
	Amount *big.Int
}

// fakeChain scripts ledger behavior per test: balances by address and
// transfer failures matched on destination substring.
type fakeChain struct {
	mu        sync.Mutex
	balances  map[string]*big.Int
	seeds     map[string]string // seed words -> owning address
	lastTxID  string
	transfers []transferRecord
	failTo    map[string]int // substring -> remaining failures
	validAll  bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances: make(map[string]*big.Int),
		seeds:    make(map[string]string),
		lastTxID: "41000001:deadbeef",
		failTo:   make(map[string]int),
		validAll: true,
	}
}

func (f *fakeChain) GetBalance(ctx context.Context, addr string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[addr]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(b), nil
}

func (f *fakeChain) ValidateAddress(addr string) bool { return f.validAll && addr != "" }

func (f *fakeChain) AddressExists(ctx context.Context, addr string) (bool, error) {
	return f.validAll && addr != "", nil
}

func (f *fakeChain) LastTransactionID(ctx context.Context, addr string) (string, error) {
	return f.lastTxID, nil
}

func (f *fakeChain) Transfer(ctx context.Context, seedWords, to string, amount *big.Int, comment string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub, left := range f.failTo {
		if left > 0 && strings.Contains(to, sub) {
			f.failTo[sub] = left - 1
			return "", fmt.Errorf("broadcast rejected for %s", to)
		}
	}
	f.transfers = append(f.transfers, transferRecord{Seed: seedWords, To: to, Amount: new(big.Int).Set(amount)})
	// Move balances for tracked addresses so later balance reads within a
	// payout run see the effect of earlier transfers.
	if from, ok := f.seeds[seedWords]; ok {
		if b, tracked := f.balances[from]; tracked {
			f.balances[from] = new(big.Int).Sub(b, amount)
		}
	}
	if b, ok := f.balances[to]; ok {
		f.balances[to] = new(big.Int).Add(b, amount)
	}
	return fmt.Sprintf("txhash%04d", len(f.transfers)), nil
}

func (f *fakeChain) NewDealWallet(ctx context.Context) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.balances) + 1
	addr := fmt.Sprintf("EQescrow%040d", n)
	f.balances[addr] = big.NewInt(0)
	return addr, "word1 word2 word3 word4", nil
}

func (f *fakeChain) transfersTo(sub string) []transferRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transferRecord
	for _, t := range f.transfers {
		if strings.Contains(t.To, sub) {
			out = append(out, t)
		}
	}
	return out
}

type fakeMarket struct {
	mu       sync.Mutex
	enabled  bool
	units    int64
	rentErrs int // rent calls that fail before one succeeds
	rentCost *big.Int
	rents    int
}

func (f *fakeMarket) Enabled() bool { return f.enabled }

func (f *fakeMarket) Estimate(ctx context.Context, from, to string, amount *big.Int) (int64, error) {
	return f.units, nil
}

func (f *fakeMarket) Rent(ctx context.Context, addr string, units int64, d time.Duration) (*resources.RentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rents++
	if f.rentErrs > 0 {
		f.rentErrs--
		return nil, fmt.Errorf("market unavailable")
	}
	cost := f.rentCost
	if cost == nil {
		cost = big.NewInt(50_000_000)
	}
	return &resources.RentResult{Cost: cost}, nil
}

func testLogger() *zap.Logger { return zap.NewNop() }

func mustNano(t string) *big.Int {
	n, err := models.ParseTON(t)
	if err != nil {
		panic(err)
	}
	return n
}
