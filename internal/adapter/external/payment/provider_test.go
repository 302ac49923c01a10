package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"go.uber.org/zap"

	"github.com/evpower/csms/internal/domain"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestODengi(t *testing.T) *ODengi {
	t.Helper()
	return NewODengi(nil, Options{Secret: "test-secret"}, zap.NewNop())
}

func TestODengiVerifyWebhook(t *testing.T) {
	p := newTestODengi(t)
	payload := []byte(`{"order_id":"qr_topup_c1_1","status":1,"paid_amount":50000}`)

	if err := p.VerifyWebhook(payload, sign("test-secret", payload)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	err := p.VerifyWebhook(payload, sign("wrong-secret", payload))
	if err == nil {
		t.Fatal("forged signature accepted")
	}
	if domain.KindOf(err) != domain.KindForbidden {
		t.Errorf("kind = %s, want Forbidden", domain.KindOf(err))
	}
}

func TestODengiParseWebhook(t *testing.T) {
	p := newTestODengi(t)

	event, err := p.ParseWebhook([]byte(`{"order_id":"qr_topup_c1_1","status":1,"paid_amount":50000}`))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if event.ProviderOrderID != "qr_topup_c1_1" {
		t.Errorf("order id = %s", event.ProviderOrderID)
	}
	if event.Status != domain.TopUpStatusApproved {
		t.Errorf("status = %s, want approved", event.Status)
	}
	if event.PaidAmount != 50000 {
		t.Errorf("paid amount = %d, want 50000", event.PaidAmount)
	}

	event, err = p.ParseWebhook([]byte(`{"order_id":"x","status":0}`))
	if err != nil {
		t.Fatalf("ParseWebhook pending: %v", err)
	}
	if event.Status != domain.TopUpStatusPending {
		t.Errorf("status = %s, want pending", event.Status)
	}

	if _, err := p.ParseWebhook([]byte(`{"status":1}`)); err == nil {
		t.Error("webhook without order_id accepted")
	}
	if _, err := p.ParseWebhook([]byte(`not json`)); err == nil {
		t.Error("malformed payload accepted")
	}
}

func TestOBankParseWebhook(t *testing.T) {
	p := NewOBank(nil, Options{Secret: "test-secret"}, zap.NewNop())

	payload := []byte(`<notification><order_id>card_topup_c2_9</order_id><status>paid</status><amount>500000</amount></notification>`)
	if err := p.VerifyWebhook(payload, sign("test-secret", payload)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	event, err := p.ParseWebhook(payload)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if event.Status != domain.TopUpStatusApproved {
		t.Errorf("status = %s, want approved", event.Status)
	}
	// 1/1000 units convert down to minor units
	if event.PaidAmount != 50000 {
		t.Errorf("paid amount = %d, want 50000", event.PaidAmount)
	}
}

func TestProviderFactory(t *testing.T) {
	log := zap.NewNop()

	for _, kind := range []string{"odengi", "obank"} {
		p, err := New(kind, Options{Secret: "s", BaseURL: "http://provider.test"}, log)
		if err != nil {
			t.Fatalf("New(%s): %v", kind, err)
		}
		if p.Name() != kind {
			t.Errorf("Name() = %s, want %s", p.Name(), kind)
		}
	}

	if _, err := New("paypal", Options{}, log); err == nil {
		t.Error("unknown provider kind accepted")
	}
}
