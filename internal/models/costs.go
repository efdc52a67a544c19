package models

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Resource acquisition methods
const (
	AcquisitionRented   = "rented"
	AcquisitionFallback = "fallback"
)

// ResourceAcquisition is a tagged variant: a payout run acquires transfer
// resources either by renting from the market (cost) or by funding the
// escrow wallet directly (sent, later partially returned). Exactly one
// method applies per operation.
type ResourceAcquisition struct {
	Method   string
	Cost     *big.Int // rented: rental price paid to the market
	Sent     *big.Int // fallback: top-up sent to the escrow wallet
	Returned *big.Int // fallback: unspent top-up swept back
}

func RentedAcquisition(cost *big.Int) ResourceAcquisition {
	return ResourceAcquisition{Method: AcquisitionRented, Cost: cost}
}

func FallbackAcquisition(sent *big.Int) ResourceAcquisition {
	return ResourceAcquisition{Method: AcquisitionFallback, Sent: sent, Returned: big.NewInt(0)}
}

// NetCost is what the operation cost the service: the rental price, or the
// fallback top-up net of whatever was swept back.
func (a ResourceAcquisition) NetCost() *big.Int {
	switch a.Method {
	case AcquisitionRented:
		if a.Cost == nil {
			return big.NewInt(0)
		}
		return new(big.Int).Set(a.Cost)
	case AcquisitionFallback:
		net := big.NewInt(0)
		if a.Sent != nil {
			net.Set(a.Sent)
		}
		if a.Returned != nil {
			net.Sub(net, a.Returned)
		}
		return net
	default:
		return big.NewInt(0)
	}
}

func (a ResourceAcquisition) Validate() error {
	switch a.Method {
	case AcquisitionRented:
		if a.Cost == nil || a.Sent != nil || a.Returned != nil && a.Returned.Sign() != 0 {
			return fmt.Errorf("rented acquisition must carry only a cost")
		}
	case AcquisitionFallback:
		if a.Sent == nil || a.Cost != nil {
			return fmt.Errorf("fallback acquisition must carry only sent/returned")
		}
	default:
		return fmt.Errorf("unknown acquisition method %q", a.Method)
	}
	return nil
}

// OperationCost is the per-deal record of what executing a payout cost the
// service, used for profitability accounting.
type OperationCost struct {
	ID                uuid.UUID `json:"id"`
	DealID            uuid.UUID `json:"deal_id"`
	AcquisitionMethod string    `json:"acquisition_method"`
	RentalCost        *string   `json:"rental_cost,omitempty"`       // decimal TON
	FallbackSent      *string   `json:"fallback_sent,omitempty"`     // decimal TON
	FallbackReturned  *string   `json:"fallback_returned,omitempty"` // decimal TON
	NetCost           string    `json:"net_cost"`                    // decimal TON
	FeePending        *string   `json:"fee_pending,omitempty"`       // commission that failed to transfer
	CreatedAt         time.Time `json:"created_at"`
}

// NewOperationCost flattens a ResourceAcquisition into a persistable row.
// feePending is nil unless the commission transfer failed after the
// principal was confirmed.
func NewOperationCost(dealID uuid.UUID, a ResourceAcquisition, feePending *big.Int) OperationCost {
	c := OperationCost{
		DealID:            dealID,
		AcquisitionMethod: a.Method,
		NetCost:           FormatTON(a.NetCost()),
	}
	switch a.Method {
	case AcquisitionRented:
		s := FormatTON(a.Cost)
		c.RentalCost = &s
	case AcquisitionFallback:
		sent := FormatTON(a.Sent)
		returned := FormatTON(a.Returned)
		c.FallbackSent = &sent
		c.FallbackReturned = &returned
	}
	if feePending != nil && feePending.Sign() > 0 {
		fp := FormatTON(feePending)
		c.FeePending = &fp
	}
	return c
}
