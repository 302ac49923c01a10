package domain

import (
	"encoding/json"
	"time"
)

// CommandName is an OCPP action the control plane may send to a station.
type CommandName string

const (
	CommandRemoteStartTransaction CommandName = "RemoteStartTransaction"
	CommandRemoteStopTransaction  CommandName = "RemoteStopTransaction"
	CommandReset                  CommandName = "Reset"
	CommandChangeConfiguration    CommandName = "ChangeConfiguration"
	CommandGetConfiguration       CommandName = "GetConfiguration"
	CommandTriggerMessage         CommandName = "TriggerMessage"
	CommandReserveNow             CommandName = "ReserveNow"
	CommandCancelReservation      CommandName = "CancelReservation"
)

// Command travels from the REST side to the process owning the station socket.
// Nonce increases monotonically per station; the session handler deduplicates
// redeliveries by nonce.
type Command struct {
	Nonce     int64           `json:"nonce"`
	StationID string          `json:"station_id"`
	Name      CommandName     `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	IssuedAt  time.Time       `json:"issued_at"`
}

// RemoteStartPayload is the OCPP RemoteStartTransaction request body.
type RemoteStartPayload struct {
	ConnectorID int    `json:"connectorId"`
	IdTag       string `json:"idTag"`
}

// RemoteStopPayload is the OCPP RemoteStopTransaction request body.
type RemoteStopPayload struct {
	TransactionID int `json:"transactionId"`
}
