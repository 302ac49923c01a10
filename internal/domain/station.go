package domain

import (
	"time"
)

type StationStatus string

const (
	StationStatusUnknown     StationStatus = "unknown"
	StationStatusAvailable   StationStatus = "available"
	StationStatusOccupied    StationStatus = "occupied"
	StationStatusFaulted     StationStatus = "faulted"
	StationStatusUnavailable StationStatus = "unavailable"
	StationStatusOffline     StationStatus = "offline"
)

// BootInfo is what the station reported in its last BootNotification.
type BootInfo struct {
	Vendor          string `json:"vendor"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serial_number,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
}

type Station struct {
	ID              string        `json:"id" gorm:"primaryKey"` // free-form id from the WebSocket path
	LocationID      string        `json:"location_id" gorm:"index"`
	Location        *Location     `json:"location,omitempty" gorm:"foreignKey:LocationID"`
	Status          StationStatus `json:"status"`
	Vendor          string        `json:"vendor"`
	Model           string        `json:"model"`
	SerialNumber    string        `json:"serial_number,omitempty"`
	FirmwareVersion string        `json:"firmware_version,omitempty"`
	PricePerKWh     int64         `json:"price_per_kwh,omitempty"` // minor units; 0 = no station override
	Connectors      []Connector   `json:"connectors" gorm:"foreignKey:StationID"`
	LastHeartbeatAt *time.Time    `json:"last_heartbeat_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Connector is a physical socket. ConnectorID is 1-based; 0 addresses the
// station as a whole per OCPP and never appears as a row.
type Connector struct {
	ID          uint          `json:"id" gorm:"primaryKey"`
	StationID   string        `json:"station_id" gorm:"index:idx_station_connector,unique"`
	ConnectorID int           `json:"connector_id" gorm:"index:idx_station_connector,unique"`
	Type        string        `json:"type"` // CCS, CHAdeMO, Type2
	Status      StationStatus `json:"status"`
	MaxPowerKW  float64       `json:"max_power_kw"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type Location struct {
	ID        string  `json:"id" gorm:"primaryKey"`
	OwnerID   string  `json:"owner_id" gorm:"index"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
	City      string  `json:"city"`
	Country   string  `json:"country"`
}

// Online reports whether the station heartbeated within the tolerance window.
func (s *Station) Online(interval time.Duration, now time.Time) bool {
	if s.LastHeartbeatAt == nil {
		return false
	}
	tolerance := 2*interval + 30*time.Second
	return now.Sub(*s.LastHeartbeatAt) <= tolerance
}
