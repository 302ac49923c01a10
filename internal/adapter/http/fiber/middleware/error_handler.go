package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/evpower/csms/internal/domain"
)

// errorBody is the JSON shape every failed request returns.
type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidArgument:
		return fiber.StatusBadRequest
	case domain.KindUnauthenticated:
		return fiber.StatusUnauthorized
	case domain.KindForbidden:
		return fiber.StatusForbidden
	case domain.KindNotFound:
		return fiber.StatusNotFound
	case domain.KindConflict:
		return fiber.StatusConflict
	case domain.KindInsufficientFunds:
		return fiber.StatusConflict
	case domain.KindStationUnavailable:
		return fiber.StatusServiceUnavailable
	case domain.KindProviderFailure:
		return fiber.StatusBadGateway
	case domain.KindTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler translates domain errors into HTTP statuses. Internal faults
// are logged with the cause but surfaced to the caller without it.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(errorBody{
				Code:    "HTTPError",
				Message: fiberErr.Message,
			})
		}

		var domainErr *domain.Error
		if errors.As(err, &domainErr) {
			status := statusFor(domainErr.Kind)
			if status >= fiber.StatusInternalServerError {
				log.Error("request failed",
					zap.String("path", c.Path()),
					zap.String("kind", string(domainErr.Kind)),
					zap.Error(err))
				return c.Status(status).JSON(errorBody{
					Code:    string(domainErr.Kind),
					Message: "internal error",
				})
			}
			return c.Status(status).JSON(errorBody{
				Code:    string(domainErr.Kind),
				Message: domainErr.Message,
				Details: domainErr.Details,
			})
		}

		log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{
			Code:    string(domain.KindInternal),
			Message: "internal error",
		})
	}
}
