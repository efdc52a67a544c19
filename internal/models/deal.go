package models

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Deal statuses
const (
	DealStatusCreated             = "created"
	DealStatusWaitingSellerWallet = "waiting_for_seller_wallet"
	DealStatusWaitingBuyerWallet  = "waiting_for_buyer_wallet"
	DealStatusWaitingDeposit      = "waiting_for_deposit"
	DealStatusLocked              = "locked"
	DealStatusInProgress          = "in_progress"
	DealStatusDispute             = "dispute"
	DealStatusResolved            = "resolved"
	DealStatusCompleted           = "completed"
	DealStatusExpired             = "expired"
	DealStatusCancelled           = "cancelled"
)

// Who bears the service commission.
const (
	CommissionBuyer  = "buyer"
	CommissionSeller = "seller"
	CommissionSplit  = "split"
)

// Pending key-validation types. The value names the secret that must be
// reproduced (the payout recipient's) before funds move.
const (
	ValidationRelease = "release" // seller secret, payout to seller address
	ValidationRefund  = "refund"  // buyer secret, payout to buyer address
)

// Valid state transitions: from -> []to
var ValidDealTransitions = map[string][]string{
	DealStatusCreated:             {DealStatusWaitingSellerWallet, DealStatusWaitingBuyerWallet, DealStatusWaitingDeposit, DealStatusCancelled},
	DealStatusWaitingSellerWallet: {DealStatusWaitingBuyerWallet, DealStatusWaitingDeposit, DealStatusCancelled, DealStatusExpired},
	DealStatusWaitingBuyerWallet:  {DealStatusWaitingDeposit, DealStatusCancelled, DealStatusExpired},
	DealStatusWaitingDeposit:      {DealStatusLocked, DealStatusCancelled, DealStatusExpired},
	DealStatusLocked:              {DealStatusInProgress, DealStatusDispute, DealStatusExpired},
	DealStatusInProgress:          {DealStatusCompleted, DealStatusDispute},
	DealStatusDispute:             {DealStatusResolved},
	DealStatusResolved:            {},
	DealStatusCompleted:           {},
	DealStatusExpired:             {},
	DealStatusCancelled:           {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status accepts no further transitions.
func IsTerminal(status string) bool {
	allowed, ok := ValidDealTransitions[status]
	return ok && len(allowed) == 0
}

func IsValidCommissionType(t string) bool {
	return t == CommissionBuyer || t == CommissionSeller || t == CommissionSplit
}

type Deal struct {
	ID                   uuid.UUID  `json:"id"`
	DealID               string     `json:"deal_id"`    // human-readable reference, unique
	UniqueKey            string     `json:"unique_key"` // sha256(buyer:seller:context), guards duplicate concurrent deals
	BuyerID              string     `json:"buyer_id"`
	SellerID             string     `json:"seller_id"`
	BuyerAddress         *string    `json:"buyer_address,omitempty"`
	SellerAddress        *string    `json:"seller_address,omitempty"`
	Amount               string     `json:"amount"`     // decimal TON as string
	Asset                string     `json:"asset"`      // TON
	Commission           string     `json:"commission"` // decimal TON as string
	CommissionType       string     `json:"commission_type"`
	Deadline             time.Time  `json:"deadline"`
	MultisigAddress      *string    `json:"multisig_address,omitempty"`
	DepositTxHash        *string    `json:"deposit_tx_hash,omitempty"`
	Status               string     `json:"status"`
	PendingKeyValidation *string    `json:"pending_key_validation,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// RequiredDeposit returns the amount in nanoTON the buyer must deposit to
// the multisig address: the principal plus the buyer-borne share of the
// commission. For split commission an odd nano remainder lands on the buyer
// side so deposit + seller receipt always covers amount + commission.
func (d *Deal) RequiredDeposit() (*big.Int, error) {
	amount, commission, err := d.amounts()
	if err != nil {
		return nil, err
	}
	switch d.CommissionType {
	case CommissionBuyer:
		return new(big.Int).Add(amount, commission), nil
	case CommissionSeller:
		return amount, nil
	case CommissionSplit:
		sellerHalf := new(big.Int).Div(commission, big.NewInt(2))
		buyerHalf := new(big.Int).Sub(commission, sellerHalf)
		return new(big.Int).Add(amount, buyerHalf), nil
	default:
		return nil, fmt.Errorf("unknown commission type %q", d.CommissionType)
	}
}

// SellerReceipt returns the amount in nanoTON the seller receives on
// release: the principal minus the seller-borne share of the commission.
func (d *Deal) SellerReceipt() (*big.Int, error) {
	amount, commission, err := d.amounts()
	if err != nil {
		return nil, err
	}
	switch d.CommissionType {
	case CommissionBuyer:
		return amount, nil
	case CommissionSeller:
		return new(big.Int).Sub(amount, commission), nil
	case CommissionSplit:
		sellerHalf := new(big.Int).Div(commission, big.NewInt(2))
		return new(big.Int).Sub(amount, sellerHalf), nil
	default:
		return nil, fmt.Errorf("unknown commission type %q", d.CommissionType)
	}
}

// CommissionNano returns the full service commission in nanoTON.
func (d *Deal) CommissionNano() (*big.Int, error) {
	c, err := ParseTON(d.Commission)
	if err != nil {
		return nil, fmt.Errorf("invalid commission %q: %w", d.Commission, err)
	}
	return c, nil
}

func (d *Deal) amounts() (amount, commission *big.Int, err error) {
	amount, err = ParseTON(d.Amount)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid amount %q: %w", d.Amount, err)
	}
	commission, err = d.CommissionNano()
	if err != nil {
		return nil, nil, err
	}
	return amount, commission, nil
}

// PayoutAddress returns the settlement address for a validation type.
func (d *Deal) PayoutAddress(validationType string) (string, error) {
	switch validationType {
	case ValidationRelease:
		if d.SellerAddress == nil {
			return "", fmt.Errorf("deal %s has no seller address", d.DealID)
		}
		return *d.SellerAddress, nil
	case ValidationRefund:
		if d.BuyerAddress == nil {
			return "", fmt.Errorf("deal %s has no buyer address", d.DealID)
		}
		return *d.BuyerAddress, nil
	default:
		return "", fmt.Errorf("unknown validation type %q", validationType)
	}
}
