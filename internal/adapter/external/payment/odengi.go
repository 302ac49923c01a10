package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
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

// ODengi is the QR-wallet provider. JSON requests signed with HMAC-SHA256;
// webhook signatures arrive in the X-O-Dengi-Signature header. Amounts are
// minor units end to end.
type ODengi struct {
	http *circuitbreaker.HTTPClient
	opts Options
	log  *zap.Logger
}

func NewODengi(httpClient *circuitbreaker.HTTPClient, opts Options, log *zap.Logger) *ODengi {
	return &ODengi{
		http: httpClient,
		opts: opts,
		log:  log,
	}
}

func (p *ODengi) Name() string { return "odengi" }

func (p *ODengi) AckBody() string { return `{"status":"accepted"}` }

type odengiInvoiceRequest struct {
	Cmd        string `json:"cmd"`
	Version    int    `json:"version"`
	MerchantID string `json:"mid"`
	OrderID    string `json:"order_id"`
	Amount     int64  `json:"amount"`
	Desc       string `json:"desc"`
}

type odengiInvoiceResponse struct {
	Data struct {
		InvoiceID string `json:"invoice_id"`
		QR        string `json:"qr"`
		PayURL    string `json:"pay_url"`
	} `json:"data"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *ODengi) CreateInvoice(ctx context.Context, clientID string, amount int64) (*ports.Invoice, error) {
	orderID := fmt.Sprintf("qr_topup_%s_%d", clientID, time.Now().UnixNano())
	body, err := json.Marshal(odengiInvoiceRequest{
		Cmd:        "createInvoice",
		Version:    1005,
		MerchantID: p.opts.MerchantID,
		OrderID:    orderID,
		Amount:     amount,
		Desc:       "EV charging balance top-up",
	})
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, "failed to marshal invoice request", err)
	}

	var parsed odengiInvoiceResponse
	start := time.Now()
	err = retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.BaseURL+"/api/json/json.php", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-O-Dengi-Signature", p.sign(body))

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
			// 4xx means the request itself is wrong, no point retrying
			return &permanentError{fmt.Errorf("odengi: createInvoice status %d: %s", resp.StatusCode, respBody)}
		}
		return json.Unmarshal(respBody, &parsed)
	})
	telemetry.ProviderRequestDuration.WithLabelValues(p.Name(), "create_invoice").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, domain.WrapError(domain.KindProviderFailure, "odengi createInvoice failed", err)
	}
	if parsed.Error.Code != 0 {
		return nil, domain.Errorf(domain.KindProviderFailure, "odengi error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}

	qr := parsed.Data.QR
	if qr == "" {
		qr = parsed.Data.PayURL
	}
	return &ports.Invoice{
		ProviderOrderID: orderID,
		QRPayload:       qr,
		ExpiresAt:       time.Now().UTC().Add(p.opts.InvoiceExpiry),
	}, nil
}

func (p *ODengi) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(p.opts.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *ODengi) VerifyWebhook(payload []byte, signature string) error {
	expected := p.sign(payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.NewError(domain.KindForbidden, "webhook signature mismatch")
	}
	return nil
}

type odengiWebhook struct {
	OrderID    string `json:"order_id"`
	Status     int    `json:"status"`
	PaidAmount int64  `json:"paid_amount"`
}

// ParseWebhook maps the provider's numeric statuses: 1 is paid, 0 still
// pending, anything else failed.
func (p *ODengi) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var hook odengiWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, domain.WrapError(domain.KindInvalidArgument, "malformed odengi webhook", err)
	}
	if hook.OrderID == "" {
		return nil, domain.NewError(domain.KindInvalidArgument, "odengi webhook missing order_id")
	}

	status := domain.TopUpStatusFailed
	switch hook.Status {
	case 1:
		status = domain.TopUpStatusApproved
	case 0:
		status = domain.TopUpStatusPending
	}
	return &domain.WebhookEvent{
		ProviderOrderID: hook.OrderID,
		Status:          status,
		PaidAmount:      hook.PaidAmount,
	}, nil
}
