package handlers

import (
	"errors"

	"github.com/escrow-desk/backend/internal/http/dto"
	"github.com/escrow-desk/backend/internal/middleware"
	"github.com/escrow-desk/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type GateHandler struct {
	gate *services.KeyGate
	log  *zap.Logger
}

func NewGateHandler(gate *services.KeyGate, log *zap.Logger) *GateHandler {
	return &GateHandler{gate: gate, log: log}
}

// SubmitSecret feeds a party's one-time secret into the validation gate.
// The response never says whether a session exists for someone else, and
// the secret itself is read from the body straight into the gate.
func (h *GateHandler) SubmitSecret(c *fiber.Ctx) error {
	var req dto.SubmitSecretRequest
	if err := c.BodyParser(&req); err != nil || req.Secret == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "secret is required"})
	}

	res, err := h.gate.Submit(c.Context(), c.Params("id"), middleware.GetPartyID(c), req.Secret)
	if err != nil {
		if errors.Is(err, services.ErrPayoutInProgress) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		// The secret was right but the payout did not complete; the gate
		// re-opened and the hint tells the party what to do.
		if res != nil && res.Outcome == services.GateOutcomeAccepted {
			return c.Status(fiber.StatusBadGateway).JSON(dto.GateSubmitResponse{
				OK:          false,
				Outcome:     res.Outcome,
				SupportHint: res.SupportHint,
			})
		}
		h.log.Error("gate submit failed", zap.String("deal_ref", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.GateSubmitResponse{
		OK:          res.Outcome == services.GateOutcomeAccepted,
		Outcome:     res.Outcome,
		Attempts:    res.Attempts,
		SupportHint: res.SupportHint,
	})
}
