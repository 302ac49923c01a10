package ports

import (
	"context"
	"time"

	"github.com/evpower/csms/internal/domain"
)

type ClientRepository interface {
	Save(ctx context.Context, client *domain.Client) error
	FindByID(ctx context.Context, id string) (*domain.Client, error)
	// Reserve atomically debits amount iff balance >= amount
	// (UPDATE ... WHERE balance >= ?). Returns InsufficientFunds otherwise.
	Reserve(ctx context.Context, clientID string, amount int64) error
	// Credit atomically adds amount back. Used for refunds and top-ups.
	Credit(ctx context.Context, clientID string, amount int64) error
}

type StationRepository interface {
	Save(ctx context.Context, station *domain.Station) error
	FindByID(ctx context.Context, id string) (*domain.Station, error)
	UpdateStatus(ctx context.Context, id string, status domain.StationStatus) error
	UpdateHeartbeat(ctx context.Context, id string, at time.Time) error
	RecordBoot(ctx context.Context, id string, info domain.BootInfo, at time.Time) error
	// FindStale returns stations whose last heartbeat is older than the cutoff
	// and that are not already offline.
	FindStale(ctx context.Context, cutoff time.Time) ([]domain.Station, error)
}

type ConnectorRepository interface {
	Find(ctx context.Context, stationID string, connectorID int) (*domain.Connector, error)
	UpdateStatus(ctx context.Context, stationID string, connectorID int, status domain.StationStatus) error
}

type SessionRepository interface {
	Save(ctx context.Context, s *domain.ChargingSession) error
	Update(ctx context.Context, s *domain.ChargingSession) error
	FindByID(ctx context.Context, id string) (*domain.ChargingSession, error)
	FindByIdTag(ctx context.Context, idTag string) (*domain.ChargingSession, error)
	FindByOcppTxID(ctx context.Context, stationID string, ocppTxID int) (*domain.ChargingSession, error)
	FindInFlightByClient(ctx context.Context, clientID string) (*domain.ChargingSession, error)
	FindInFlightByConnector(ctx context.Context, stationID string, connectorID int) (*domain.ChargingSession, error)
	// Transition compares-and-sets status; reports false when the session was
	// not in any of the expected states (no row mutated).
	Transition(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (bool, error)
	// Settle finalizes the session and credits the refund in one database
	// transaction, guarded on the current status being one of from.
	Settle(ctx context.Context, s *domain.ChargingSession, from []domain.SessionStatus, refund int64) (bool, error)
	FindStartingBefore(ctx context.Context, cutoff time.Time) ([]domain.ChargingSession, error)
	FindActiveBefore(ctx context.Context, cutoff time.Time) ([]domain.ChargingSession, error)
}

type MeterSampleRepository interface {
	Append(ctx context.Context, samples []domain.MeterSample) error
	LastBySession(ctx context.Context, sessionID string) (*domain.MeterSample, error)
}

type TopUpRepository interface {
	Save(ctx context.Context, t *domain.TopUp) error
	FindByID(ctx context.Context, id string) (*domain.TopUp, error)
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*domain.TopUp, error)
	// ApproveAndCredit sets the top-up approved and credits the client balance
	// in one database transaction. A top-up already approved is a no-op with
	// credited=false, which makes webhook redelivery harmless.
	ApproveAndCredit(ctx context.Context, providerOrderID string, paidAmount int64, at time.Time) (credited bool, err error)
	// ExpirePending marks pending top-ups past their expiry. Terminal rows are
	// never touched.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

type TariffRepository interface {
	// FindEffective resolves the highest-priority active per-kWh rule for the
	// station (or its location) at the given instant; (nil, nil) when none.
	FindEffective(ctx context.Context, stationID, locationID string, now time.Time) (*domain.TariffRule, error)
}
