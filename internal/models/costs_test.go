package models

import (
	"math/big"
	"testing"

	"github.com/google/uuid"
)

func TestResourceAcquisitionNetCost(t *testing.T) {
	rented := RentedAcquisition(big.NewInt(250_000_000))
	if got := rented.NetCost(); got.Int64() != 250_000_000 {
		t.Errorf("rented net cost = %d, want 250000000", got.Int64())
	}

	fallback := FallbackAcquisition(big.NewInt(2_000_000_000))
	fallback.Returned = big.NewInt(1_500_000_000)
	if got := fallback.NetCost(); got.Int64() != 500_000_000 {
		t.Errorf("fallback net cost = %d, want 500000000", got.Int64())
	}

	// Nothing swept back yet: full top-up counts as cost.
	fresh := FallbackAcquisition(big.NewInt(2_000_000_000))
	if got := fresh.NetCost(); got.Int64() != 2_000_000_000 {
		t.Errorf("fresh fallback net cost = %d, want 2000000000", got.Int64())
	}
}

func TestResourceAcquisitionValidate(t *testing.T) {
	if err := RentedAcquisition(big.NewInt(1)).Validate(); err != nil {
		t.Errorf("rented: %v", err)
	}
	if err := FallbackAcquisition(big.NewInt(1)).Validate(); err != nil {
		t.Errorf("fallback: %v", err)
	}

	bad := ResourceAcquisition{Method: AcquisitionRented, Cost: big.NewInt(1), Sent: big.NewInt(1)}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for rented acquisition carrying fallback fields")
	}
	if err := (ResourceAcquisition{Method: "other"}).Validate(); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestNewOperationCost(t *testing.T) {
	dealID := uuid.New()

	a := FallbackAcquisition(big.NewInt(2_000_000_000))
	a.Returned = big.NewInt(1_200_000_000)
	c := NewOperationCost(dealID, a, big.NewInt(15_000_000_000))

	if c.AcquisitionMethod != AcquisitionFallback {
		t.Errorf("method = %q", c.AcquisitionMethod)
	}
	if c.RentalCost != nil {
		t.Error("fallback cost entry must not carry a rental cost")
	}
	if c.FallbackSent == nil || *c.FallbackSent != "2" {
		t.Errorf("fallback sent = %v, want 2", c.FallbackSent)
	}
	if c.FallbackReturned == nil || *c.FallbackReturned != "1.2" {
		t.Errorf("fallback returned = %v, want 1.2", c.FallbackReturned)
	}
	if c.NetCost != "0.8" {
		t.Errorf("net cost = %q, want 0.8", c.NetCost)
	}
	if c.FeePending == nil || *c.FeePending != "15" {
		t.Errorf("fee pending = %v, want 15", c.FeePending)
	}

	r := NewOperationCost(dealID, RentedAcquisition(big.NewInt(300_000_000)), nil)
	if r.RentalCost == nil || *r.RentalCost != "0.3" {
		t.Errorf("rental cost = %v, want 0.3", r.RentalCost)
	}
	if r.FeePending != nil {
		t.Error("fee pending must be nil when commission settled")
	}
}
