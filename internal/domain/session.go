package domain

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusStarting SessionStatus = "starting"
	SessionStatusActive   SessionStatus = "active"
	SessionStatusStopping SessionStatus = "stopping"
	SessionStatusStopped  SessionStatus = "stopped"
	SessionStatusFailed   SessionStatus = "failed"
	SessionStatusExpired  SessionStatus = "expired"
)

// InFlight reports whether the status counts against the one-session-per-client
// and one-session-per-connector limits.
func (s SessionStatus) InFlight() bool {
	switch s {
	case SessionStatusPending, SessionStatusStarting, SessionStatusActive, SessionStatusStopping:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusStopped, SessionStatusFailed, SessionStatusExpired:
		return true
	}
	return false
}

type LimitKind string

const (
	LimitKindEnergy LimitKind = "energy" // limit value in Wh
	LimitKindAmount LimitKind = "amount" // limit value in minor units
)

// ChargingSession tracks one reserve→start→meter→settle cycle. Monetary fields
// are minor units; energy fields are Wh. Once stopped,
// AmountCharged + RefundAmount == ReservedAmount.
type ChargingSession struct {
	ID              string        `json:"id" gorm:"primaryKey"`
	ClientID        string        `json:"client_id" gorm:"index"`
	StationID       string        `json:"station_id" gorm:"index"`
	ConnectorID     int           `json:"connector_id"`
	IdTag           string        `json:"id_tag" gorm:"index"`
	LimitKind       LimitKind     `json:"limit_kind"`
	LimitValue      int64         `json:"limit_value"`
	PricePerKWh     int64         `json:"price_per_kwh"` // resolved at start, fixed for the session
	ReservedAmount  int64         `json:"reserved_amount"`
	OcppTxID        *int          `json:"ocpp_tx_id,omitempty" gorm:"index"`
	MeterStart      int64         `json:"meter_start"` // Wh
	MeterStop       int64         `json:"meter_stop"`  // Wh
	EnergyDelivered int64         `json:"energy_delivered"`
	AmountCharged   int64         `json:"amount_charged"`
	RefundAmount    int64         `json:"refund_amount"`
	Status          SessionStatus `json:"status" gorm:"index"`
	StopReason      string        `json:"stop_reason,omitempty"`
	StopRequestedAt *time.Time    `json:"stop_requested_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	StoppedAt       *time.Time    `json:"stopped_at,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// CostOf converts delivered energy to money, rounding up so the operator never
// under-bills by a fraction of a minor unit.
func CostOf(energyWh, pricePerKWh int64) int64 {
	if energyWh <= 0 || pricePerKWh <= 0 {
		return 0
	}
	return (energyWh*pricePerKWh + 999) / 1000
}

// EnergyBudgetWh is the energy an amount-limited session may deliver before
// its reservation is exhausted.
func EnergyBudgetWh(reserved, pricePerKWh int64) int64 {
	if pricePerKWh <= 0 {
		return 0
	}
	return reserved * 1000 / pricePerKWh
}

// LimitReached reports whether live metering has exhausted the session limit.
func (s *ChargingSession) LimitReached(lastMeterWh int64) bool {
	delivered := lastMeterWh - s.MeterStart
	if delivered <= 0 {
		return false
	}
	switch s.LimitKind {
	case LimitKindEnergy:
		return delivered >= s.LimitValue
	case LimitKindAmount:
		return CostOf(delivered, s.PricePerKWh) >= s.ReservedAmount
	}
	return false
}

// Settle computes the final figures for a stop at meterStop. Charged is capped
// at the reservation; the remainder is refunded.
func (s *ChargingSession) Settle(meterStop int64) (energyWh, charged, refund int64) {
	energyWh = meterStop - s.MeterStart
	if energyWh < 0 {
		energyWh = 0
	}
	charged = CostOf(energyWh, s.PricePerKWh)
	if charged > s.ReservedAmount {
		charged = s.ReservedAmount
	}
	refund = s.ReservedAmount - charged
	return energyWh, charged, refund
}
