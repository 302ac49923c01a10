package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/evpower/csms/internal/domain"
)

// Deadline bounds every request by a wall-clock budget. Handlers observe the
// budget through c.UserContext(); an overrun surfaces as a gateway timeout so
// the caller knows to poll for the outcome instead of retrying blindly.
func Deadline(budget time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if budget <= 0 {
			return c.Next()
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), budget)
		defer cancel()
		c.SetUserContext(ctx)

		err := c.Next()
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NewError(domain.KindTimeout, "request deadline exceeded")
		}
		return err
	}
}
