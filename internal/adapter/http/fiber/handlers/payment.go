package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/evpower/csms/internal/adapter/http/fiber/middleware"
	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/ports"
)

type PaymentHandler struct {
	payments ports.PaymentService
	provider ports.PaymentProvider
	log      *zap.Logger
}

func NewPaymentHandler(payments ports.PaymentService, provider ports.PaymentProvider, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, provider: provider, log: log}
}

type topUpRequest struct {
	Amount int64 `json:"amount"` // minor units
}

func (h *PaymentHandler) CreateTopUp(c *fiber.Ctx) error {
	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.WrapError(domain.KindInvalidArgument, "malformed request body", err)
	}

	topup, err := h.payments.CreateTopUp(c.UserContext(), middleware.ClientID(c), req.Amount)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(topup)
}

func (h *PaymentHandler) GetBalance(c *fiber.Ctx) error {
	client, err := h.payments.GetBalance(c.UserContext(), middleware.ClientID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"client_id": client.ID,
		"balance":   client.Balance,
		"currency":  client.Currency,
	})
}

// Webhook is the provider-facing callback. The acknowledgment body and its
// content type are whatever the provider's API demands, not our JSON envelope.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	signature := c.Get("X-O-Dengi-Signature")
	if signature == "" {
		signature = c.Get("X-Signature")
	}

	ack, err := h.payments.HandleWebhook(c.UserContext(), c.Body(), signature)
	if err != nil {
		h.log.Warn("webhook rejected",
			zap.String("provider", h.provider.Name()),
			zap.Error(err))
		return err
	}
	contentType := fiber.MIMEApplicationJSON
	if len(ack) > 0 && ack[0] == '<' {
		contentType = fiber.MIMEApplicationXML
	}
	c.Set(fiber.HeaderContentType, contentType)
	return c.SendString(ack)
}
