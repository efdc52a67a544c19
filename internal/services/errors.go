package services

import (
	"errors"
	"fmt"
)

// Payout error taxonomy. Validation errors are returned synchronously with
// no state change; ledger errors leave the deal in its last safe state and
// are retryable by re-opening the gate.
var (
	ErrInsufficientBalance = errors.New("escrow wallet balance is zero")
	ErrBalanceTooLow       = errors.New("escrow wallet balance does not cover the commission")
	ErrResourceAcquisition = errors.New("transfer resource acquisition failed")
	ErrBroadcastFailed     = errors.New("transfer broadcast failed")
	ErrPayoutInProgress    = errors.New("a payout for this deal is already in progress")
	ErrDuplicateDeal       = errors.New("an active deal between these parties already exists")
)

// UserMessage renders an error for the authorized party: the deal reference
// and a support contact, never internal detail.
func UserMessage(err error, dealID, supportContact string) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrBalanceTooLow):
		return fmt.Sprintf("deal %s: escrow balance is too low for a payout, contact %s", dealID, supportContact)
	case errors.Is(err, ErrBroadcastFailed):
		return fmt.Sprintf("deal %s: the transfer could not be completed, contact %s", dealID, supportContact)
	case errors.Is(err, ErrPayoutInProgress):
		return fmt.Sprintf("deal %s: a payout is already being processed", dealID)
	default:
		return fmt.Sprintf("deal %s: operation failed, contact %s", dealID, supportContact)
	}
}
