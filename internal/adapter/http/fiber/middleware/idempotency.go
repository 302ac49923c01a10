package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/ports"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	idempotencyKeyPrefix = "idempotency:"
	idempotencyTTL       = 24 * time.Hour
)

// Idempotency replays the stored response when a mutating request is retried
// with the same Idempotency-Key and body. Reusing a key with a different body
// is a Conflict. Requests without the header pass through.
func Idempotency(cache ports.Cache, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(idempotencyHeader)
		if key == "" {
			return c.Next()
		}

		sum := sha256.Sum256(c.Body())
		bodyHash := hex.EncodeToString(sum[:])
		cacheKey := idempotencyKeyPrefix + ClientID(c) + ":" + key

		if cached, err := cache.Get(c.UserContext(), cacheKey); err == nil && cached != "" {
			var record domain.IdempotencyRecord
			if err := json.Unmarshal([]byte(cached), &record); err == nil {
				if record.BodyHash != bodyHash {
					return domain.NewError(domain.KindConflict, "idempotency key reused with a different body")
				}
				c.Set("X-Idempotent-Replay", "true")
				c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
				return c.Status(record.StatusCode).Send(record.Response)
			}
		}

		if err := c.Next(); err != nil {
			return err
		}

		// only successful outcomes are worth replaying
		status := c.Response().StatusCode()
		if status < 200 || status >= 300 {
			return nil
		}

		response := append([]byte(nil), c.Response().Body()...)
		record, err := json.Marshal(domain.IdempotencyRecord{
			Key:        key,
			ClientID:   ClientID(c),
			Method:     c.Method(),
			Path:       c.Path(),
			BodyHash:   bodyHash,
			StatusCode: status,
			Response:   response,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			return nil
		}
		if err := cache.Set(c.UserContext(), cacheKey, string(record), idempotencyTTL); err != nil {
			log.Warn("idempotency record write failed", zap.Error(err))
		}
		return nil
	}
}
