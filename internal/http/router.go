package http

import (
	"time"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/http/handlers"
	"github.com/escrow-desk/backend/internal/middleware"
	"github.com/escrow-desk/backend/internal/rbac"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	dealHandler *handlers.DealHandler,
	gateHandler *handlers.GateHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Token provisioning (guarded by the shared key, not JWT)
	api.Post("/auth/token", authHandler.IssueToken)

	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Deals
	protected.Post("/deals", dealHandler.CreateDeal)
	protected.Get("/deals", dealHandler.ListDeals)
	protected.Get("/deals/:id", dealHandler.GetDeal)
	protected.Get("/deals/:id/escrow", dealHandler.GetEscrowInfo)
	protected.Get("/deals/:id/transactions", dealHandler.GetTransactions)
	protected.Get("/deals/:id/events", dealHandler.GetEvents)
	protected.Post("/deals/:id/address", dealHandler.SupplyAddress)
	protected.Post("/deals/:id/submit-work", dealHandler.SubmitWork)
	protected.Post("/deals/:id/accept", dealHandler.Accept)
	protected.Post("/deals/:id/cancel", dealHandler.Cancel)
	protected.Post("/deals/:id/dispute", dealHandler.OpenDispute)

	// Secret submission gets a much tighter limit than the rest of the API.
	protected.Post("/deals/:id/gate/submit",
		middleware.RateLimitMiddleware(rdb, 10, time.Minute),
		gateHandler.SubmitSecret,
	)

	// Arbiter-only
	arbiter := protected.Group("", middleware.RequirePermission(rbac.PermResolveDispute))
	arbiter.Post("/deals/:id/dispute/resolve", dealHandler.ResolveDispute)
	arbiter.Get("/deals/:id/costs", dealHandler.GetCosts)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
