package handlers

import (
	"crypto/subtle"

	"github.com/escrow-desk/backend/internal/auth"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/http/dto"
	"github.com/escrow-desk/backend/internal/rbac"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AuthHandler mints party tokens for the front service that owns user
// identity. The engine itself has no user accounts; it trusts whatever
// party ids the provisioning caller presents.
type AuthHandler struct {
	cfg *config.Config
	log *zap.Logger
}

func NewAuthHandler(cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, log: log}
}

func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req dto.IssueTokenRequest
	if err := c.BodyParser(&req); err != nil || req.PartyID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "party_id is required"})
	}

	if h.cfg.AuthProvisionKey == "" ||
		subtle.ConstantTimeCompare([]byte(req.Key), []byte(h.cfg.AuthProvisionKey)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid provisioning key"})
	}

	role := req.Role
	if role == "" {
		role = rbac.RoleParty
	}
	if role != rbac.RoleParty && role != rbac.RoleArbiter {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unknown role"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, req.PartyID, role, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("token generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AuthResponse{Token: token})
}
