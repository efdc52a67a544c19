package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction kinds
const (
	TxKindRelease = "release"
	TxKindRefund  = "refund"
	TxKindFee     = "fee"
	TxKindTopup   = "topup"
	TxKindSweep   = "sweep"
)

const TxStatusConfirmed = "confirmed"

// Transaction is an append-only ledger row per confirmed on-chain transfer.
// Failed broadcasts never create rows; they surface as errors.
type Transaction struct {
	ID          uuid.UUID `json:"id"`
	DealID      uuid.UUID `json:"deal_id"`
	Kind        string    `json:"kind"`
	TxHash      string    `json:"tx_hash"`
	Amount      string    `json:"amount"` // decimal TON
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}
