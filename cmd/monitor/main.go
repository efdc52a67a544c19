package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/escrow-desk/backend/internal/chain"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/db"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/monitor"
	"github.com/escrow-desk/backend/internal/repositories"
	"github.com/escrow-desk/backend/internal/resources"
	"github.com/escrow-desk/backend/internal/services"
	"github.com/escrow-desk/backend/internal/sessions"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	tonClient, err := chain.Connect(ctx, chain.ConnectOptions{
		Network:        cfg.TONNetwork,
		LiteServerHost: cfg.LiteServerHost,
		LiteServerPort: cfg.LiteServerPort,
		LiteServerKey:  cfg.LiteServerKey,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to TON", zap.Error(err))
	}

	cipher, err := chain.NewKeyCipher(cfg.WalletMasterKey)
	if err != nil {
		log.Fatal("invalid WALLET_MASTER_KEY", zap.Error(err))
	}

	dealRepo := repositories.NewDealRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	costRepo := repositories.NewCostRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	publisher := events.NewRedisPublisher(rdb, log)
	sessionStore := sessions.NewRedisStore(rdb)

	// The deadline monitor opens gates, so it carries the full payout path.
	market := resources.NewHTTPMarket(cfg.ResourceMarketURL, cfg.ResourceMarketAPIKey, cfg.ResourceMarketEnabled, log)
	payoutService := services.NewPayoutService(dealRepo, walletRepo, txRepo, costRepo, sessionStore, tonClient, market, cipher, publisher, auditRepo, cfg, log)
	gate := services.NewKeyGate(dealRepo, walletRepo, sessionStore, payoutService, publisher, auditRepo, cfg, log)

	deposits := monitor.NewDepositMonitor(dealRepo, tonClient, publisher, cfg, log)
	deadlines := monitor.NewDeadlineMonitor(dealRepo, gate, sessionStore, publisher, cfg, log)

	go deposits.Run(ctx)
	go deadlines.Run(ctx)

	log.Info("monitor started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down monitor")
	cancel()
}
