package payment

import (
	"time"

	"go.uber.org/zap"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/infrastructure/circuitbreaker"
	"github.com/evpower/csms/internal/ports"
)

const (
	maxRetries        = 3
	initialRetryDelay = 500 * time.Millisecond
)

// Options carry the provider wiring shared by all implementations.
type Options struct {
	BaseURL       string
	MerchantID    string
	Secret        string
	InvoiceExpiry time.Duration
	HTTPTimeout   time.Duration
}

// New selects the provider implementation by kind. Outbound calls go through
// a breaker-protected HTTP client; transient failures are retried with
// exponential backoff before surfacing ProviderFailure.
func New(kind string, opts Options, log *zap.Logger) (ports.PaymentProvider, error) {
	if opts.InvoiceExpiry == 0 {
		opts.InvoiceExpiry = 5 * time.Minute
	}
	httpClient := circuitbreaker.NewHTTPClientWithSettings(
		circuitbreaker.Settings{Name: "payment-" + kind},
		opts.HTTPTimeout,
		log,
	)

	switch kind {
	case "odengi":
		return NewODengi(httpClient, opts, log), nil
	case "obank":
		return NewOBank(httpClient, opts, log), nil
	default:
		return nil, domain.Errorf(domain.KindInvalidArgument, "unknown payment provider kind %q", kind)
	}
}
