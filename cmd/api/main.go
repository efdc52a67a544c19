package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/escrow-desk/backend/internal/chain"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/db"
	"github.com/escrow-desk/backend/internal/events"
	apphttp "github.com/escrow-desk/backend/internal/http"
	"github.com/escrow-desk/backend/internal/http/handlers"
	"github.com/escrow-desk/backend/internal/repositories"
	"github.com/escrow-desk/backend/internal/resources"
	"github.com/escrow-desk/backend/internal/services"
	"github.com/escrow-desk/backend/internal/sessions"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Ledger
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

	// Repositories
	dealRepo := repositories.NewDealRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	costRepo := repositories.NewCostRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events and sessions
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)
	sessionStore := sessions.NewRedisStore(rdb)

	// Services
	market := resources.NewHTTPMarket(cfg.ResourceMarketURL, cfg.ResourceMarketAPIKey, cfg.ResourceMarketEnabled, log)
	payoutService := services.NewPayoutService(dealRepo, walletRepo, txRepo, costRepo, sessionStore, tonClient, market, cipher, publisher, auditRepo, cfg, log)
	gate := services.NewKeyGate(dealRepo, walletRepo, sessionStore, payoutService, publisher, auditRepo, cfg, log)
	dealService := services.NewDealService(dealRepo, walletRepo, tonClient, cipher, gate, publisher, auditRepo, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, log)
	dealHandler := handlers.NewDealHandler(dealService, txRepo, costRepo, auditRepo, log)
	gateHandler := handlers.NewGateHandler(gate, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, dealHandler, gateHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
