package domain

import (
	"time"
)

type ClientStatus string

const (
	ClientStatusActive  ClientStatus = "active"
	ClientStatusBlocked ClientStatus = "blocked"
)

// Client is a prepaid account. Balance is in minor units (e.g. tyiyn) and is
// mutated only through atomic conditional SQL in the storage layer.
type Client struct {
	ID        string       `json:"id" gorm:"primaryKey"`
	Name      string       `json:"name"`
	Phone     string       `json:"phone,omitempty" gorm:"index"`
	Balance   int64        `json:"balance"` // minor units, never negative
	Currency  string       `json:"currency"`
	Status    ClientStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
