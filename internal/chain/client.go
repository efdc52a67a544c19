package chain

import (
	"context"
	"math/big"
)

// Client is the ledger surface the engine consumes. All amounts are nanoTON.
type Client interface {
	// GetBalance returns the confirmed balance of an address. Inactive or
	// uninitialized accounts report zero.
	GetBalance(ctx context.Context, addr string) (*big.Int, error)
	// ValidateAddress checks address format only.
	ValidateAddress(addr string) bool
	// AddressExists reports whether the account is active on chain.
	AddressExists(ctx context.Context, addr string) (bool, error)
	// LastTransactionID returns the account's latest transaction reference
	// ("lt:hash"), used to attribute an observed deposit.
	LastTransactionID(ctx context.Context, addr string) (string, error)
	// Transfer builds, signs and broadcasts a transfer from the wallet
	// derived from seedWords, waits for confirmation and returns the tx
	// hash. A returned error means no Transaction row may be recorded.
	Transfer(ctx context.Context, seedWords, to string, amount *big.Int, comment string) (string, error)
	// NewDealWallet provisions a fresh deposit wallet and returns its
	// address together with the custodial seed words.
	NewDealWallet(ctx context.Context) (addr string, seedWords string, err error)
}
