package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/escrow-desk/backend/internal/chain"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/models"
)

type fakeGate struct {
	mu    sync.Mutex
	calls []struct {
		DealID         string
		ValidationType string
		FinalStatus    string
	}
	closed []string
}

func (f *fakeGate) Open(ctx context.Context, deal *models.Deal, validationType, finalStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		DealID         string
		ValidationType string
		FinalStatus    string
	}{deal.DealID, validationType, finalStatus})
	return nil
}

func (f *fakeGate) Close(ctx context.Context, deal *models.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, deal.DealID)
	return nil
}

type dealFixture struct {
	svc     *DealService
	deals   *fakeDeals
	wallets *fakeWallets
	gate    *fakeGate
	pub     *fakePublisher
	chain   *fakeChain
}

func newDealFixture(t *testing.T) *dealFixture {
	t.Helper()
	cipher, err := chain.NewKeyCipher(strings.Repeat("cd", 32))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	deals := newFakeDeals()
	wallets := newFakeWallets()
	gate := &fakeGate{}
	pub := &fakePublisher{}
	ledger := newFakeChain()
	svc := NewDealService(deals, wallets, ledger, cipher, gate, pub, &fakeAudit{}, testConfig(), testLogger())
	return &dealFixture{svc: svc, deals: deals, wallets: wallets, gate: gate, pub: pub, chain: ledger}
}

func validInput() CreateDealInput {
	return CreateDealInput{
		BuyerID:        "buyer-1",
		SellerID:       "seller-1",
		Amount:         "100",
		Commission:     "15",
		CommissionType: models.CommissionBuyer,
		Deadline:       time.Now().Add(48 * time.Hour),
		Context:        "logo design",
	}
}

func TestCreateDealProvisionsWalletAndSecrets(t *testing.T) {
	ctx := context.Background()
	f := newDealFixture(t)

	created, err := f.svc.CreateDeal(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if created.Deal.Status != models.DealStatusWaitingSellerWallet {
		t.Errorf("status = %q, want waiting_for_seller_wallet", created.Deal.Status)
	}
	if created.DepositAddress == "" || created.Deal.MultisigAddress == nil {
		t.Error("deal must carry the escrow deposit address")
	}
	if created.RequiredDeposit != "115" {
		t.Errorf("required deposit = %s, want 115 for buyer-borne commission", created.RequiredDeposit)
	}
	if created.BuyerSecret == "" || created.SellerSecret == "" || created.BuyerSecret == created.SellerSecret {
		t.Error("each party needs a distinct one-time secret")
	}

	if len(f.wallets.created) != 1 {
		t.Fatalf("wallets created = %d, want 1", len(f.wallets.created))
	}
	w := f.wallets.created[0]
	if w.BuyerSecretHash != chain.HashSecret(created.BuyerSecret) {
		t.Error("stored buyer hash does not match the issued secret")
	}
	if w.SellerSecretHash != chain.HashSecret(created.SellerSecret) {
		t.Error("stored seller hash does not match the issued secret")
	}
	if w.EncryptedSeed == "" || strings.Contains(w.EncryptedSeed, "word1") {
		t.Error("custodial seed must be stored encrypted")
	}
	if got := f.pub.ofType(events.EventDealCreated); len(got) != 1 {
		t.Errorf("created events = %d, want 1", len(got))
	}
}

func TestCreateDealWithBothAddressesWaitsForDeposit(t *testing.T) {
	ctx := context.Background()
	f := newDealFixture(t)
	in := validInput()
	in.BuyerAddress = "EQbuyer00000000000000000000000000000000000000000"
	in.SellerAddress = "EQseller0000000000000000000000000000000000000000"

	created, err := f.svc.CreateDeal(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Deal.Status != models.DealStatusWaitingDeposit {
		t.Errorf("status = %q, want waiting_for_deposit", created.Deal.Status)
	}
}

func TestCreateDealRejectsBadTerms(t *testing.T) {
	ctx := context.Background()
	f := newDealFixture(t)

	cases := []struct {
		name   string
		mutate func(*CreateDealInput)
	}{
		{"same parties", func(in *CreateDealInput) { in.SellerID = in.BuyerID }},
		{"below minimum", func(in *CreateDealInput) { in.Amount = "0.5" }},
		{"bad commission type", func(in *CreateDealInput) { in.CommissionType = "arbiter" }},
		{"past deadline", func(in *CreateDealInput) { in.Deadline = time.Now().Add(-time.Minute) }},
		{"negative amount", func(in *CreateDealInput) { in.Amount = "-5" }},
		{"commission eats principal", func(in *CreateDealInput) {
			in.CommissionType = models.CommissionSeller
			in.Commission = "100"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			if _, err := f.svc.CreateDeal(ctx, in); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestCreateDealRejectsDuplicateActiveDeal(t *testing.T) {
	ctx := context.Background()
	f := newDealFixture(t)

	if _, err := f.svc.CreateDeal(ctx, validInput()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := f.svc.CreateDeal(ctx, validInput())
	if !errors.Is(err, ErrDuplicateDeal) {
		t.Fatalf("err = %v, want ErrDuplicateDeal", err)
	}

	// A different subject between the same parties is a different deal.
	in := validInput()
	in.Context = "banner design"
	if _, err := f.svc.CreateDeal(ctx, in); err != nil {
		t.Errorf("distinct context should be allowed: %v", err)
	}
}

func TestCreateDealDuplicateCaughtByStore(t *testing.T) {
	ctx := context.Background()
	f := newDealFixture(t)

	if _, err := f.svc.CreateDeal(ctx, validInput()); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// Two concurrent creates can both pass the pre-check; the store's
	// unique index is the backstop, and its violation must surface as the
	// same duplicate error.
	f.deals.skipActiveCheck = true
	_, err := f.svc.CreateDeal(ctx, validInput())
	if !errors.Is(err, ErrDuplicateDeal) {
		t.Fatalf("err = %v, want ErrDuplicateDeal", err)
	}
}

func TestSupplyAddressAdvancesWhenBothPresent(t *testing.T) {
	ctx := context.Background()
	f := newDealFixture(t)
	created, err := f.svc.CreateDeal(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ref := created.Deal.DealID

	deal, err := f.svc.SupplyAddress(ctx, ref, "seller-1", "EQseller0000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("seller address: %v", err)
	}
	if deal.Status != models.DealStatusWaitingBuyerWallet {
		t.Errorf("status = %q after seller address, want waiting_for_buyer_wallet", deal.Status)
	}

	deal, err = f.svc.SupplyAddress(ctx, ref, "buyer-1", "EQbuyer00000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("buyer address: %v", err)
	}
	if deal.BuyerAddress == nil || deal.SellerAddress == nil {
		t.Fatal("both addresses should be recorded")
	}
	if deal.Status != models.DealStatusWaitingDeposit {
		t.Errorf("status = %q, want waiting_for_deposit", deal.Status)
	}

	if _, err := f.svc.SupplyAddress(ctx, ref, "stranger", "EQx000000000000000000000000000000000000000000000"); err == nil {
		t.Error("a third party must not set addresses")
	}
}

func TestSubmitWorkRequiresLockedSeller(t *testing.T) {
	ctx := context.Background()
	f := newDealFixture(t)
	deal := gateDeal(models.DealStatusLocked)
	f.deals.Create(ctx, deal)

	if _, err := f.svc.SubmitWork(ctx, deal.DealID, deal.BuyerID); err == nil {
		t.Error("buyer must not submit work")
	}

	got, err := f.svc.SubmitWork(ctx, deal.DealID, deal.SellerID)
	if err != nil {
		t.Fatalf("submit work: %v", err)
	}
	if got.Status != models.DealStatusInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}

	if _, err := f.svc.SubmitWork(ctx, deal.DealID, deal.SellerID); err == nil {
		t.Error("work cannot be submitted twice")
	}
}

func TestAcceptOpensReleaseGate(t *testing.T) {
	ctx := context.Background()
	f := newDealFixture(t)
	deal := gateDeal(models.DealStatusInProgress)
	f.deals.Create(ctx, deal)

	if _, err := f.svc.Accept(ctx, deal.DealID, deal.SellerID); err == nil {
		t.Error("seller must not accept their own work")
	}

	if _, err := f.svc.Accept(ctx, deal.DealID, deal.BuyerID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(f.gate.calls) != 1 {
		t.Fatalf("gate calls = %d, want 1", len(f.gate.calls))
	}
	call := f.gate.calls[0]
	if call.ValidationType != models.ValidationRelease || call.FinalStatus != models.DealStatusCompleted {
		t.Errorf("gate opened with (%s, %s), want (release, completed)", call.ValidationType, call.FinalStatus)
	}
}

func TestDisputeLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newDealFixture(t)
	deal := gateDeal(models.DealStatusInProgress)
	f.deals.Create(ctx, deal)

	if _, err := f.svc.OpenDispute(ctx, deal.DealID, "stranger", "late"); err == nil {
		t.Error("only deal parties may open a dispute")
	}

	got, err := f.svc.OpenDispute(ctx, deal.DealID, deal.BuyerID, "work rejected")
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if got.Status != models.DealStatusDispute {
		t.Fatalf("status = %q, want dispute", got.Status)
	}
	if evs := f.pub.ofType(events.EventDealDisputeOpened); len(evs) != 1 {
		t.Errorf("dispute events = %d, want 1", len(evs))
	}

	if _, err := f.svc.ResolveDispute(ctx, deal.DealID, "arbiter-1", "nobody"); err == nil {
		t.Error("unknown winner must be rejected")
	}

	if _, err := f.svc.ResolveDispute(ctx, deal.DealID, "arbiter-1", "buyer"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(f.gate.calls) != 1 {
		t.Fatalf("gate calls = %d, want 1", len(f.gate.calls))
	}
	call := f.gate.calls[0]
	if call.ValidationType != models.ValidationRefund || call.FinalStatus != models.DealStatusResolved {
		t.Errorf("gate opened with (%s, %s), want (refund, resolved)", call.ValidationType, call.FinalStatus)
	}
}

func TestOpenDisputeClosesPendingGate(t *testing.T) {
	ctx := context.Background()
	f := newDealFixture(t)
	deal := gateDeal(models.DealStatusInProgress)
	f.deals.Create(ctx, deal)

	// A release window may already be waiting on the seller's key when the
	// buyer escalates. The dispute must withdraw it.
	if _, err := f.svc.OpenDispute(ctx, deal.DealID, deal.BuyerID, "work rejected"); err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	if len(f.gate.closed) != 1 || f.gate.closed[0] != deal.DealID {
		t.Errorf("gate.closed = %v, want [%s]", f.gate.closed, deal.DealID)
	}
}

func TestCancelOnlyBeforeFunding(t *testing.T) {
	ctx := context.Background()
	f := newDealFixture(t)

	unfunded := gateDeal(models.DealStatusWaitingDeposit)
	unfunded.DealID = "D-CANCEL01"
	f.deals.Create(ctx, unfunded)

	funded := gateDeal(models.DealStatusLocked)
	funded.DealID = "D-CANCEL02"
	f.deals.Create(ctx, funded)

	got, err := f.svc.Cancel(ctx, unfunded.DealID, unfunded.BuyerID)
	if err != nil {
		t.Fatalf("cancel unfunded: %v", err)
	}
	if got.Status != models.DealStatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}

	if _, err := f.svc.Cancel(ctx, funded.DealID, funded.BuyerID); err == nil {
		t.Error("a funded deal must not be cancellable")
	}
}
