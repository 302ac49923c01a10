package domain

import (
	"time"
)

type TopUpStatus string

const (
	TopUpStatusPending  TopUpStatus = "pending"
	TopUpStatusApproved TopUpStatus = "approved"
	TopUpStatusExpired  TopUpStatus = "expired"
	TopUpStatusFailed   TopUpStatus = "failed"
)

// TopUp is a provider invoice for a balance credit. Approval is terminal and
// monotonic: once approved, no cleanup path may revert it.
type TopUp struct {
	ID              string      `json:"id" gorm:"primaryKey"`
	ClientID        string      `json:"client_id" gorm:"index"`
	Provider        string      `json:"provider"`
	ProviderOrderID string      `json:"provider_order_id" gorm:"uniqueIndex"`
	AmountRequested int64       `json:"amount_requested"` // minor units
	AmountPaid      int64       `json:"amount_paid"`
	Currency        string      `json:"currency"`
	QRPayload       string      `json:"qr_payload,omitempty"`
	Status          TopUpStatus `json:"status" gorm:"index"`
	ExpiresAt       time.Time   `json:"expires_at"`
	PaidAt          *time.Time  `json:"paid_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// WebhookEvent is the provider-neutral result of parsing an inbound webhook.
type WebhookEvent struct {
	ProviderOrderID string
	Status          TopUpStatus
	PaidAmount      int64 // minor units
}
