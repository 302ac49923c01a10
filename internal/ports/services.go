package ports

import (
	"context"
	"time"

	"github.com/evpower/csms/internal/domain"
)

// StartChargeRequest carries the REST inputs for a new session. Exactly one of
// the two limits must be set; supplying both (or neither, when unlimited mode
// is disabled) is InvalidArgument.
type StartChargeRequest struct {
	ClientID    string
	StationID   string
	ConnectorID int
	LimitKind   domain.LimitKind
	LimitValue  int64
}

// ChargingService is the sole writer of charging sessions. REST calls the
// first three; the OCPP session handler calls the event-shaped rest.
type ChargingService interface {
	StartCharge(ctx context.Context, req StartChargeRequest) (*domain.ChargingSession, error)
	// StopCharge is idempotent: repeat calls on a stopping/stopped session
	// return the current snapshot without side effects.
	StopCharge(ctx context.Context, sessionID, actor string) (*domain.ChargingSession, error)
	GetSession(ctx context.Context, sessionID string) (*domain.ChargingSession, error)

	// Authorize maps an idTag to a client and checks the balance.
	Authorize(ctx context.Context, idTag string) (bool, error)
	// AttachTransaction binds the station-confirmed OCPP transaction to the
	// starting session addressed by idTag.
	AttachTransaction(ctx context.Context, stationID, idTag string, ocppTxID int, meterStart int64, at time.Time) (*domain.ChargingSession, error)
	// RecordMeterValues appends samples and enforces the session limit live.
	RecordMeterValues(ctx context.Context, stationID string, ocppTxID int, samples []domain.MeterSample) error
	// CompleteSession settles the session on StopTransaction.
	CompleteSession(ctx context.Context, stationID string, ocppTxID int, meterStop int64, reason string, at time.Time) (*domain.ChargingSession, error)
	// FailConnectorSession settles the in-flight session on a faulted
	// connector as failed, refunding the unconsumed reservation, and asks the
	// station to stop the transaction.
	FailConnectorSession(ctx context.Context, stationID string, connectorID int) error

	// ExpireSession and ForceStopSession are the reconciler's compensations.
	ExpireSession(ctx context.Context, sessionID string) error
	ForceStopSession(ctx context.Context, sessionID string) error
}

type PaymentService interface {
	// CreateTopUp creates a provider invoice and a pending top-up row.
	CreateTopUp(ctx context.Context, clientID string, amount int64) (*domain.TopUp, error)
	// HandleWebhook verifies, parses and (for approved events) credits exactly
	// once. Returns the acknowledgment body the provider expects.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error)
	GetBalance(ctx context.Context, clientID string) (*domain.Client, error)
}

// StationDirectory is what the OCPP session handler needs from persistence:
// boot bookkeeping, liveness, connector state.
type StationDirectory interface {
	HandleBoot(ctx context.Context, stationID string, info domain.BootInfo) (accepted bool, err error)
	Heartbeat(ctx context.Context, stationID string) error
	SetConnectorStatus(ctx context.Context, stationID string, connectorID int, status domain.StationStatus) error
	StationStatus(ctx context.Context, stationID string) (*domain.Station, error)
	// MarkOffline flips stations without a heartbeat inside the tolerance
	// window; used by the reconciler.
	MarkOffline(ctx context.Context, cutoff time.Time) (int64, error)
}
