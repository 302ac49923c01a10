package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/evpower/csms/internal/adapter/http/fiber/middleware"
	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/mocks"
	"github.com/evpower/csms/internal/ports"
)

type testApp struct {
	app      *fiber.App
	charging *mocks.MockChargingService
	payments *mocks.MockPaymentService
	dir      *mocks.MockStationDirectory
	cache    *mocks.MockCache
}

func newTestApp() *testApp {
	ta := &testApp{
		charging: &mocks.MockChargingService{},
		payments: &mocks.MockPaymentService{},
		dir:      &mocks.MockStationDirectory{},
		cache:    mocks.NewMockCache(),
	}

	log := zap.NewNop()
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(log),
	})

	v1 := app.Group("/api/v1")

	paymentHandler := NewPaymentHandler(ta.payments, &mocks.MockPaymentProvider{}, log)
	v1.Post("/payment/webhook", paymentHandler.Webhook)

	stationHandler := NewStationHandler(ta.dir, log)
	v1.Get("/stations/:id/status", stationHandler.Status)

	client := v1.Group("", middleware.ClientRequired(), middleware.Idempotency(ta.cache, log))

	chargingHandler := NewChargingHandler(ta.charging, log)
	client.Post("/charging/start", chargingHandler.Start)
	client.Post("/charging/:id/stop", chargingHandler.Stop)
	client.Get("/charging/:id", chargingHandler.Get)
	client.Post("/balance/topup", paymentHandler.CreateTopUp)
	client.Get("/balance", paymentHandler.GetBalance)

	ta.app = app
	return ta
}

func doJSON(t *testing.T, app *fiber.App, method, target, body string, headers map[string]string) (int, []byte) {
	t.Helper()
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reqBody)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func clientHeaders() map[string]string {
	return map[string]string{"X-Client-ID": "client-1"}
}

func TestStartChargeEndpoint(t *testing.T) {
	ta := newTestApp()
	var got ports.StartChargeRequest
	ta.charging.StartChargeFunc = func(ctx context.Context, req ports.StartChargeRequest) (*domain.ChargingSession, error) {
		got = req
		return &domain.ChargingSession{ID: "sess-1", Status: domain.SessionStatusStarting}, nil
	}

	status, body := doJSON(t, ta.app, "POST", "/api/v1/charging/start",
		`{"station_id":"ST-001","connector_id":1,"limit_kind":"energy","limit_value":10000}`,
		clientHeaders())

	if status != fiber.StatusCreated {
		t.Fatalf("status = %d, body %s", status, body)
	}
	if got.ClientID != "client-1" || got.StationID != "ST-001" || got.LimitKind != domain.LimitKindEnergy {
		t.Errorf("request = %+v", got)
	}
	var session domain.ChargingSession
	if err := json.Unmarshal(body, &session); err != nil || session.ID != "sess-1" {
		t.Errorf("body = %s", body)
	}
}

func TestStartChargeRequiresClientHeader(t *testing.T) {
	ta := newTestApp()
	status, body := doJSON(t, ta.app, "POST", "/api/v1/charging/start",
		`{"station_id":"ST-001","connector_id":1}`, nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, body %s", status, body)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		kind domain.Kind
		want int
	}{
		{domain.KindInvalidArgument, fiber.StatusBadRequest},
		{domain.KindNotFound, fiber.StatusNotFound},
		{domain.KindConflict, fiber.StatusConflict},
		{domain.KindInsufficientFunds, fiber.StatusConflict},
		{domain.KindStationUnavailable, fiber.StatusServiceUnavailable},
		{domain.KindTimeout, fiber.StatusGatewayTimeout},
		{domain.KindInternal, fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		ta := newTestApp()
		ta.charging.GetSessionFunc = func(ctx context.Context, id string) (*domain.ChargingSession, error) {
			return nil, domain.NewError(tc.kind, "boom")
		}
		status, body := doJSON(t, ta.app, "GET", "/api/v1/charging/sess-1", "", clientHeaders())
		if status != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.kind, status, tc.want)
		}
		var envelope struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Code != string(tc.kind) {
			t.Errorf("%s: body = %s", tc.kind, body)
		}
		if tc.kind == domain.KindInternal && envelope.Message == "boom" {
			t.Error("internal error message leaked to the caller")
		}
	}
}

func TestIdempotencyReplay(t *testing.T) {
	ta := newTestApp()
	calls := 0
	ta.payments.CreateTopUpFunc = func(ctx context.Context, clientID string, amount int64) (*domain.TopUp, error) {
		calls++
		return &domain.TopUp{ID: "topup-1", AmountRequested: amount, Status: domain.TopUpStatusPending}, nil
	}

	headers := clientHeaders()
	headers["Idempotency-Key"] = "key-1"
	body := `{"amount":50000}`

	status1, resp1 := doJSON(t, ta.app, "POST", "/api/v1/balance/topup", body, headers)
	status2, resp2 := doJSON(t, ta.app, "POST", "/api/v1/balance/topup", body, headers)

	if status1 != fiber.StatusCreated || status2 != fiber.StatusCreated {
		t.Fatalf("statuses = %d, %d", status1, status2)
	}
	if calls != 1 {
		t.Errorf("service called %d times, want 1", calls)
	}
	if string(resp1) != string(resp2) {
		t.Errorf("replay body differs: %s vs %s", resp1, resp2)
	}
}

func TestIdempotencyKeyReuseDifferentBody(t *testing.T) {
	ta := newTestApp()
	ta.payments.CreateTopUpFunc = func(ctx context.Context, clientID string, amount int64) (*domain.TopUp, error) {
		return &domain.TopUp{ID: "topup-1", AmountRequested: amount}, nil
	}

	headers := clientHeaders()
	headers["Idempotency-Key"] = "key-1"

	status, _ := doJSON(t, ta.app, "POST", "/api/v1/balance/topup", `{"amount":50000}`, headers)
	if status != fiber.StatusCreated {
		t.Fatalf("first request status = %d", status)
	}
	status, body := doJSON(t, ta.app, "POST", "/api/v1/balance/topup", `{"amount":99999}`, headers)
	if status != fiber.StatusConflict {
		t.Fatalf("status = %d, body %s, want conflict", status, body)
	}
}

func TestWebhookReturnsProviderAck(t *testing.T) {
	ta := newTestApp()
	ta.payments.HandleWebhookFunc = func(ctx context.Context, payload []byte, signature string) (string, error) {
		if signature != "sig-value" {
			t.Errorf("signature = %q", signature)
		}
		return `{"status":"accepted"}`, nil
	}

	status, body := doJSON(t, ta.app, "POST", "/api/v1/payment/webhook",
		`{"order_id":"ord-1"}`, map[string]string{"X-O-Dengi-Signature": "sig-value"})

	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if string(body) != `{"status":"accepted"}` {
		t.Errorf("ack = %s", body)
	}
}

func TestWebhookSignatureFailure(t *testing.T) {
	ta := newTestApp()
	ta.payments.HandleWebhookFunc = func(ctx context.Context, payload []byte, signature string) (string, error) {
		return "", domain.NewError(domain.KindForbidden, "signature mismatch")
	}

	status, _ := doJSON(t, ta.app, "POST", "/api/v1/payment/webhook", `{}`, nil)
	if status != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
}

func TestStationStatusEndpoint(t *testing.T) {
	ta := newTestApp()
	heartbeat := time.Now().UTC()
	ta.dir.StationStatusFunc = func(ctx context.Context, id string) (*domain.Station, error) {
		if id != "ST-001" {
			return nil, domain.NewError(domain.KindNotFound, "station not found")
		}
		return &domain.Station{ID: id, Status: domain.StationStatusAvailable, LastHeartbeatAt: &heartbeat}, nil
	}

	status, body := doJSON(t, ta.app, "GET", "/api/v1/stations/ST-001/status", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var station domain.Station
	if err := json.Unmarshal(body, &station); err != nil || station.Status != domain.StationStatusAvailable {
		t.Errorf("body = %s", body)
	}

	status, _ = doJSON(t, ta.app, "GET", "/api/v1/stations/ST-GHOST/status", "", nil)
	if status != fiber.StatusNotFound {
		t.Errorf("missing station status = %d", status)
	}
}

func TestGetBalanceEndpoint(t *testing.T) {
	ta := newTestApp()
	ta.payments.GetBalanceFunc = func(ctx context.Context, clientID string) (*domain.Client, error) {
		return &domain.Client{ID: clientID, Balance: 12345, Currency: "KGS"}, nil
	}

	status, body := doJSON(t, ta.app, "GET", "/api/v1/balance", "", clientHeaders())
	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var resp struct {
		Balance  int64  `json:"balance"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Balance != 12345 || resp.Currency != "KGS" {
		t.Errorf("body = %s", body)
	}
}
