package ports

import (
	"context"
	"time"

	"github.com/evpower/csms/internal/domain"
)

// Invoice is the provider's answer to an outbound createInvoice call.
type Invoice struct {
	ProviderOrderID string
	QRPayload       string
	ExpiresAt       time.Time
}

// PaymentProvider is the outbound/inbound contract with the acquiring side.
// Implementations distinguish transient failures (retried by the caller) from
// permanent ones (surfaced as ProviderFailure).
type PaymentProvider interface {
	Name() string
	CreateInvoice(ctx context.Context, clientID string, amount int64) (*Invoice, error)
	// VerifyWebhook checks the payload signature against the shared secret.
	VerifyWebhook(payload []byte, signature string) error
	ParseWebhook(payload []byte) (*domain.WebhookEvent, error)
	// AckBody is the exact response body the provider expects on success.
	AckBody() string
}
