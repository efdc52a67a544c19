package monitor

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		DepositPollInterval:  10 * time.Second,
		DeadlinePollInterval: time.Minute,
		LedgerErrorThreshold: 5,
		GraceLockedSeconds:   86400,
		GraceProgressSeconds: 21600,
	}
}

type memDeals struct {
	mu    sync.Mutex
	deals map[uuid.UUID]*models.Deal
}

func newMemDeals(deals ...*models.Deal) *memDeals {
	m := &memDeals{deals: make(map[uuid.UUID]*models.Deal)}
	for _, d := range deals {
		m.deals[d.ID] = d
	}
	return m
}

func (m *memDeals) ListByStatus(ctx context.Context, status string, limit int) ([]models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Deal
	for _, d := range m.deals {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memDeals) ListPastDeadline(ctx context.Context, statuses []string, now time.Time, limit int) ([]models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Deal
	for _, d := range m.deals {
		for _, s := range statuses {
			if d.Status == s && d.Deadline.Before(now) {
				out = append(out, *d)
			}
		}
	}
	return out, nil
}

func (m *memDeals) MarkLocked(ctx context.Context, id uuid.UUID, depositTxHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok || d.Status != models.DealStatusWaitingDeposit {
		return false, nil
	}
	d.Status = models.DealStatusLocked
	d.DepositTxHash = &depositTxHash
	return true, nil
}

func (m *memDeals) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	return true, nil
}

func (m *memDeals) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deals[id].Status
}

type memLedger struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	failures int // remaining balance queries that error
}

func newMemLedger() *memLedger {
	return &memLedger{balances: make(map[string]*big.Int)}
}

func (l *memLedger) GetBalance(ctx context.Context, addr string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return nil, fmt.Errorf("liteserver timeout")
	}
	b, ok := l.balances[addr]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(b), nil
}

func (l *memLedger) LastTransactionID(ctx context.Context, addr string) (string, error) {
	return "41000001:cafe", nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *memPublisher) Publish(ctx context.Context, stream string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *memPublisher) ofType(t string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type gateCall struct {
	DealID         string
	ValidationType string
	FinalStatus    string
}

type memGate struct {
	mu    sync.Mutex
	calls []gateCall
}

func (g *memGate) Open(ctx context.Context, deal *models.Deal, validationType, finalStatus string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gateCall{DealID: deal.DealID, ValidationType: validationType, FinalStatus: finalStatus})
	return nil
}

func testLogger() *zap.Logger { return zap.NewNop() }

func mustNano(t string) *big.Int {
	n, err := models.ParseTON(t)
	if err != nil {
		panic(err)
	}
	return n
}

func monitorDeal(ref, status string, deadline time.Time) *models.Deal {
	escrow := "EQescrow" + ref
	return &models.Deal{
		ID:              uuid.New(),
		DealID:          ref,
		BuyerID:         "buyer-1",
		SellerID:        "seller-1",
		Amount:          "100",
		Asset:           "TON",
		Commission:      "15",
		CommissionType:  models.CommissionBuyer,
		Deadline:        deadline,
		MultisigAddress: &escrow,
		Status:          status,
	}
}
