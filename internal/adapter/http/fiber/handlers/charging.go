package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/evpower/csms/internal/adapter/http/fiber/middleware"
	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/ports"
)

type ChargingHandler struct {
	charging ports.ChargingService
	log      *zap.Logger
}

func NewChargingHandler(charging ports.ChargingService, log *zap.Logger) *ChargingHandler {
	return &ChargingHandler{charging: charging, log: log}
}

type startChargeRequest struct {
	StationID   string `json:"station_id"`
	ConnectorID int    `json:"connector_id"`
	LimitKind   string `json:"limit_kind,omitempty"`
	// limit_value is Wh when limit_kind is "energy" (10 kWh = 10000) and
	// minor currency units when it is "amount"
	LimitValue int64 `json:"limit_value,omitempty"`
}

func (h *ChargingHandler) Start(c *fiber.Ctx) error {
	var req startChargeRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.WrapError(domain.KindInvalidArgument, "malformed request body", err)
	}

	session, err := h.charging.StartCharge(c.UserContext(), ports.StartChargeRequest{
		ClientID:    middleware.ClientID(c),
		StationID:   req.StationID,
		ConnectorID: req.ConnectorID,
		LimitKind:   domain.LimitKind(req.LimitKind),
		LimitValue:  req.LimitValue,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

func (h *ChargingHandler) Stop(c *fiber.Ctx) error {
	session, err := h.charging.StopCharge(c.UserContext(), c.Params("id"), middleware.ClientID(c))
	if err != nil {
		return err
	}
	return c.JSON(session)
}

func (h *ChargingHandler) Get(c *fiber.Ctx) error {
	session, err := h.charging.GetSession(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(session)
}
