package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

// TonClient implements Client against TON lite servers.
type TonClient struct {
	api ton.APIClientWrapped
	log *zap.Logger
}

// ConnectOptions mirror the config: a pinned lite server, or auto-discovery
// from the global network config.
type ConnectOptions struct {
	Network        string // mainnet/testnet
	LiteServerHost string
	LiteServerPort int
	LiteServerKey  string
}

// Connect establishes the lite-server connection pool and wraps it in a
// retrying API client. Mainnet uses the secure proof-check policy.
func Connect(ctx context.Context, opts ConnectOptions, log *zap.Logger) (*TonClient, error) {
	client := liteclient.NewConnectionPool()

	if opts.LiteServerHost != "" && opts.LiteServerKey != "" {
		addrStr := fmt.Sprintf("%s:%d", opts.LiteServerHost, opts.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addrStr))
		if err := client.AddConnection(ctx, addrStr, opts.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addrStr, err)
		}
	} else {
		var configURL string
		switch strings.ToLower(opts.Network) {
		case "mainnet":
			configURL = "https://ton.org/global.config.json"
		default:
			configURL = "https://ton.org/testnet-global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", opts.Network))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := ton.ProofCheckPolicyFast
	if strings.ToLower(opts.Network) == "mainnet" {
		proofPolicy = ton.ProofCheckPolicySecure
	}

	api := ton.NewAPIClient(client, proofPolicy).WithRetry()
	return &TonClient{api: api, log: log}, nil
}

func (c *TonClient) account(ctx context.Context, addrStr string) (*tlb.Account, error) {
	addr, err := address.ParseAddr(addrStr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", addrStr, err)
	}

	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get master block: %w", err)
	}

	account, err := c.api.GetAccount(ctx, block, addr)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", addrStr, err)
	}
	return account, nil
}

func (c *TonClient) GetBalance(ctx context.Context, addrStr string) (*big.Int, error) {
	account, err := c.account(ctx, addrStr)
	if err != nil {
		return nil, err
	}
	if account == nil || !account.IsActive || account.State == nil {
		return big.NewInt(0), nil
	}
	return account.State.Balance.Nano(), nil
}

func (c *TonClient) ValidateAddress(addrStr string) bool {
	_, err := address.ParseAddr(addrStr)
	return err == nil
}

func (c *TonClient) AddressExists(ctx context.Context, addrStr string) (bool, error) {
	account, err := c.account(ctx, addrStr)
	if err != nil {
		return false, err
	}
	return account != nil && account.IsActive, nil
}

func (c *TonClient) LastTransactionID(ctx context.Context, addrStr string) (string, error) {
	account, err := c.account(ctx, addrStr)
	if err != nil {
		return "", err
	}
	if account == nil || account.LastTxLT == 0 {
		return "", nil
	}
	return fmt.Sprintf("%d:%s", account.LastTxLT, hex.EncodeToString(account.LastTxHash)), nil
}

func (c *TonClient) Transfer(ctx context.Context, seedWords, to string, amount *big.Int, comment string) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("transfer amount must be positive")
	}

	dst, err := address.ParseAddr(to)
	if err != nil {
		return "", fmt.Errorf("invalid destination %s: %w", to, err)
	}

	w, err := wallet.FromSeed(c.api, strings.Fields(seedWords), wallet.V4R2)
	if err != nil {
		return "", fmt.Errorf("derive wallet: %w", err)
	}

	body, err := wallet.CreateCommentCell(comment)
	if err != nil {
		return "", fmt.Errorf("build comment: %w", err)
	}

	msg := wallet.SimpleMessage(dst, tlb.FromNanoTON(amount), body)

	tx, _, err := w.SendWaitTransaction(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("broadcast transfer: %w", err)
	}

	hash := hex.EncodeToString(tx.Hash)
	c.log.Info("transfer confirmed",
		zap.String("from", w.WalletAddress().String()),
		zap.String("to", dst.String()),
		zap.String("amount_nano", amount.String()),
		zap.String("tx_hash", hash),
	)
	return hash, nil
}

func (c *TonClient) NewDealWallet(ctx context.Context) (string, string, error) {
	words := wallet.NewSeed()

	w, err := wallet.FromSeed(c.api, words, wallet.V4R2)
	if err != nil {
		return "", "", fmt.Errorf("derive deal wallet: %w", err)
	}

	return w.WalletAddress().String(), strings.Join(words, " "), nil
}
