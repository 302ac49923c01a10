package domain

import (
	"time"
)

// MeterSample is one reading reported by a station through MeterValues.
// Rows are append-only.
type MeterSample struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	SessionID string    `json:"session_id" gorm:"index"`
	Timestamp time.Time `json:"timestamp"`
	MeterWh   int64     `json:"meter_wh"`
	Measurand string    `json:"measurand"` // Energy.Active.Import.Register unless stated otherwise
	Unit      string    `json:"unit"`
}
