package domain

import (
	"time"
)

// TariffRule prices energy for a station or a whole location. The engine
// resolves one effective price_per_kwh per (station, now): station override
// first, then the highest-priority active per-kWh rule, then the configured
// default.
type TariffRule struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	StationID   string     `json:"station_id,omitempty" gorm:"index"`
	LocationID  string     `json:"location_id,omitempty" gorm:"index"`
	PricePerKWh int64      `json:"price_per_kwh"` // minor units
	Currency    string     `json:"currency"`
	Priority    int        `json:"priority"`
	Active      bool       `json:"active"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// EffectiveAt reports whether the rule applies at the given instant.
func (r *TariffRule) EffectiveAt(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return false
	}
	return true
}
