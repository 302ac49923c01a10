package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/infrastructure/circuitbreaker"
	"github.com/evpower/csms/internal/observability/telemetry"
	"github.com/evpower/csms/internal/ports"
)

// OBank is the card-acquiring provider. Requests and webhooks are XML and
// amounts travel in 1/1000 of the base unit, so conversion to minor units
// (1/100) divides by ten.
type OBank struct {
	http *circuitbreaker.HTTPClient
	opts Options
	log  *zap.Logger
}

func NewOBank(httpClient *circuitbreaker.HTTPClient, opts Options, log *zap.Logger) *OBank {
	return &OBank{
		http: httpClient,
		opts: opts,
		log:  log,
	}
}

func (p *OBank) Name() string { return "obank" }

func (p *OBank) AckBody() string { return "<response><status>0</status></response>" }

type obankInvoiceRequest struct {
	XMLName    xml.Name `xml:"request"`
	Operation  string   `xml:"operation"`
	MerchantID string   `xml:"merchant_id"`
	OrderID    string   `xml:"order_id"`
	Amount     int64    `xml:"amount"` // 1/1000 units
	Expiry     int64    `xml:"lifetime_seconds"`
}

type obankInvoiceResponse struct {
	XMLName xml.Name `xml:"response"`
	Status  int      `xml:"status"`
	Message string   `xml:"message"`
	PayURL  string   `xml:"pay_url"`
}

func (p *OBank) CreateInvoice(ctx context.Context, clientID string, amount int64) (*ports.Invoice, error) {
	orderID := fmt.Sprintf("card_topup_%s_%d", clientID, time.Now().UnixNano())
	body, err := xml.Marshal(obankInvoiceRequest{
		Operation:  "create_order",
		MerchantID: p.opts.MerchantID,
		OrderID:    orderID,
		Amount:     amount * 10, // minor units → 1/1000 units
		Expiry:     int64(p.opts.InvoiceExpiry.Seconds()),
	})
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, "failed to marshal obank request", err)
	}

	var parsed obankInvoiceResponse
	start := time.Now()
	err = retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.BaseURL+"/payment/order", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/xml")
		req.Header.Set("X-Signature", p.sign(body))

		resp, err := p.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &permanentError{fmt.Errorf("obank: create_order status %d: %s", resp.StatusCode, respBody)}
		}
		return xml.Unmarshal(respBody, &parsed)
	})
	telemetry.ProviderRequestDuration.WithLabelValues(p.Name(), "create_invoice").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, domain.WrapError(domain.KindProviderFailure, "obank create_order failed", err)
	}
	if parsed.Status != 0 {
		return nil, domain.Errorf(domain.KindProviderFailure, "obank error %d: %s", parsed.Status, parsed.Message)
	}

	return &ports.Invoice{
		ProviderOrderID: orderID,
		QRPayload:       parsed.PayURL,
		ExpiresAt:       time.Now().UTC().Add(p.opts.InvoiceExpiry),
	}, nil
}

func (p *OBank) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(p.opts.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *OBank) VerifyWebhook(payload []byte, signature string) error {
	expected := p.sign(payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.NewError(domain.KindForbidden, "webhook signature mismatch")
	}
	return nil
}

type obankWebhook struct {
	XMLName xml.Name `xml:"notification"`
	OrderID string   `xml:"order_id"`
	Status  string   `xml:"status"`
	Amount  int64    `xml:"amount"` // 1/1000 units
}

func (p *OBank) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var hook obankWebhook
	if err := xml.Unmarshal(payload, &hook); err != nil {
		return nil, domain.WrapError(domain.KindInvalidArgument, "malformed obank webhook", err)
	}
	if hook.OrderID == "" {
		return nil, domain.NewError(domain.KindInvalidArgument, "obank webhook missing order_id")
	}

	status := domain.TopUpStatusFailed
	switch hook.Status {
	case "paid", "approved":
		status = domain.TopUpStatusApproved
	case "pending", "created":
		status = domain.TopUpStatusPending
	}
	return &domain.WebhookEvent{
		ProviderOrderID: hook.OrderID,
		Status:          status,
		PaidAmount:      hook.Amount / 10, // 1/1000 units → minor units
	}, nil
}
