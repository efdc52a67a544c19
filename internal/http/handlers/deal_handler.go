package handlers

import (
	"strconv"

	"github.com/escrow-desk/backend/internal/http/dto"
	"github.com/escrow-desk/backend/internal/middleware"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/rbac"
	"github.com/escrow-desk/backend/internal/repositories"
	"github.com/escrow-desk/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type DealHandler struct {
	dealService *services.DealService
	txs         *repositories.TransactionRepo
	costs       *repositories.CostRepo
	audit       *repositories.AuditRepo
	log         *zap.Logger
}

func NewDealHandler(dealService *services.DealService, txs *repositories.TransactionRepo, costs *repositories.CostRepo, audit *repositories.AuditRepo, log *zap.Logger) *DealHandler {
	return &DealHandler{dealService: dealService, txs: txs, costs: costs, audit: audit, log: log}
}

func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	actorID := middleware.GetPartyID(c)
	if actorID != req.BuyerID && actorID != req.SellerID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "deals can only be created by one of their parties"})
	}

	created, err := h.dealService.CreateDeal(c.Context(), services.CreateDealInput{
		BuyerID:        req.BuyerID,
		SellerID:       req.SellerID,
		BuyerAddress:   req.BuyerAddress,
		SellerAddress:  req.SellerAddress,
		Amount:         req.Amount,
		Commission:     req.Commission,
		CommissionType: req.CommissionType,
		Deadline:       req.Deadline,
		Context:        req.Context,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: created})
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	deal, ok := h.loadDealForParty(c)
	if !ok {
		return nil
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	partyID := middleware.GetPartyID(c)
	filter := repositories.DealFilter{
		PartyID: &partyID,
		Limit:   20,
		Offset:  0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}

	deals, err := h.dealService.ListDeals(c.Context(), filter)
	if err != nil {
		h.log.Error("list deals failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

func (h *DealHandler) GetEscrowInfo(c *fiber.Ctx) error {
	deal, ok := h.loadDealForParty(c)
	if !ok {
		return nil
	}
	if deal.MultisigAddress == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "escrow wallet not provisioned"})
	}
	required, err := deal.RequiredDeposit()
	if err != nil {
		h.log.Error("required deposit failed", zap.String("deal_id", deal.DealID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.PaymentInfoResponse{
		DealID:          deal.DealID,
		DepositAddress:  *deal.MultisigAddress,
		RequiredDeposit: models.FormatTON(required),
		Status:          deal.Status,
	})
}

func (h *DealHandler) GetTransactions(c *fiber.Ctx) error {
	deal, ok := h.loadDealForParty(c)
	if !ok {
		return nil
	}
	rows, err := h.txs.ListByDeal(c.Context(), deal.ID)
	if err != nil {
		h.log.Error("list transactions failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rows})
}

// GetCosts is arbiter-only: operation costs are service accounting, not
// party-facing data.
func (h *DealHandler) GetCosts(c *fiber.Ctx) error {
	deal, err := h.dealService.GetDeal(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "deal not found"})
	}
	rows, err := h.costs.ListByDeal(c.Context(), deal.ID)
	if err != nil {
		h.log.Error("list costs failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rows})
}

func (h *DealHandler) GetEvents(c *fiber.Ctx) error {
	deal, ok := h.loadDealForParty(c)
	if !ok {
		return nil
	}
	rows, err := h.audit.GetByEntity(c.Context(), "deal", deal.ID, 100, 0)
	if err != nil {
		h.log.Error("list audit events failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rows})
}

func (h *DealHandler) SupplyAddress(c *fiber.Ctx) error {
	var req dto.SupplyAddressRequest
	if err := c.BodyParser(&req); err != nil || req.Address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "address is required"})
	}

	deal, err := h.dealService.SupplyAddress(c.Context(), c.Params("id"), middleware.GetPartyID(c), req.Address)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) SubmitWork(c *fiber.Ctx) error {
	deal, err := h.dealService.SubmitWork(c.Context(), c.Params("id"), middleware.GetPartyID(c))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) Accept(c *fiber.Ctx) error {
	deal, err := h.dealService.Accept(c.Context(), c.Params("id"), middleware.GetPartyID(c))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) Cancel(c *fiber.Ctx) error {
	deal, err := h.dealService.Cancel(c.Context(), c.Params("id"), middleware.GetPartyID(c))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) OpenDispute(c *fiber.Ctx) error {
	var req dto.OpenDisputeRequest
	_ = c.BodyParser(&req)

	deal, err := h.dealService.OpenDispute(c.Context(), c.Params("id"), middleware.GetPartyID(c), req.Reason)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) ResolveDispute(c *fiber.Ctx) error {
	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil || req.Winner == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "winner is required (buyer or seller)"})
	}

	deal, err := h.dealService.ResolveDispute(c.Context(), c.Params("id"), middleware.GetPartyID(c), req.Winner)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

// loadDealForParty fetches the deal and enforces that the caller is one of
// its parties or an arbiter. On failure the response has already been
// written and ok is false.
func (h *DealHandler) loadDealForParty(c *fiber.Ctx) (*models.Deal, bool) {
	deal, err := h.dealService.GetDeal(c.Context(), c.Params("id"))
	if err != nil {
		_ = c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "deal not found"})
		return nil, false
	}
	actorID := middleware.GetPartyID(c)
	if actorID != deal.BuyerID && actorID != deal.SellerID && !rbac.Can(middleware.GetRole(c), rbac.PermResolveDispute) {
		_ = c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not a party to this deal"})
		return nil, false
	}
	return deal, true
}
