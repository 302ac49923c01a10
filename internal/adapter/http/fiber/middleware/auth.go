package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/evpower/csms/internal/domain"
)

const clientIDHeader = "X-Client-ID"

// ClientRequired resolves the calling client from the gateway-injected header.
// Authentication itself happens upstream; this service only needs identity.
func ClientRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := c.Get(clientIDHeader)
		if clientID == "" {
			return domain.NewError(domain.KindUnauthenticated, "missing "+clientIDHeader+" header")
		}
		c.Locals("client_id", clientID)
		return c.Next()
	}
}

// ClientID reads the identity set by ClientRequired.
func ClientID(c *fiber.Ctx) string {
	if id, ok := c.Locals("client_id").(string); ok {
		return id
	}
	return ""
}
