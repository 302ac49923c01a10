package mocks

import (
	"context"
	"time"

	"github.com/evpower/csms/internal/domain"
)

// MockClientRepository is a mock implementation of ClientRepository
type MockClientRepository struct {
	SaveFunc     func(ctx context.Context, client *domain.Client) error
	FindByIDFunc func(ctx context.Context, id string) (*domain.Client, error)
	ReserveFunc  func(ctx context.Context, clientID string, amount int64) error
	CreditFunc   func(ctx context.Context, clientID string, amount int64) error
}

func (m *MockClientRepository) Save(ctx context.Context, client *domain.Client) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, client)
	}
	return nil
}

func (m *MockClientRepository) FindByID(ctx context.Context, id string) (*domain.Client, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockClientRepository) Reserve(ctx context.Context, clientID string, amount int64) error {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, clientID, amount)
	}
	return nil
}

func (m *MockClientRepository) Credit(ctx context.Context, clientID string, amount int64) error {
	if m.CreditFunc != nil {
		return m.CreditFunc(ctx, clientID, amount)
	}
	return nil
}

// MockStationRepository is a mock implementation of StationRepository
type MockStationRepository struct {
	SaveFunc            func(ctx context.Context, station *domain.Station) error
	FindByIDFunc        func(ctx context.Context, id string) (*domain.Station, error)
	UpdateStatusFunc    func(ctx context.Context, id string, status domain.StationStatus) error
	UpdateHeartbeatFunc func(ctx context.Context, id string, at time.Time) error
	RecordBootFunc      func(ctx context.Context, id string, info domain.BootInfo, at time.Time) error
	FindStaleFunc       func(ctx context.Context, cutoff time.Time) ([]domain.Station, error)
}

func (m *MockStationRepository) Save(ctx context.Context, station *domain.Station) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, station)
	}
	return nil
}

func (m *MockStationRepository) FindByID(ctx context.Context, id string) (*domain.Station, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockStationRepository) UpdateStatus(ctx context.Context, id string, status domain.StationStatus) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *MockStationRepository) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	if m.UpdateHeartbeatFunc != nil {
		return m.UpdateHeartbeatFunc(ctx, id, at)
	}
	return nil
}

func (m *MockStationRepository) RecordBoot(ctx context.Context, id string, info domain.BootInfo, at time.Time) error {
	if m.RecordBootFunc != nil {
		return m.RecordBootFunc(ctx, id, info, at)
	}
	return nil
}

func (m *MockStationRepository) FindStale(ctx context.Context, cutoff time.Time) ([]domain.Station, error) {
	if m.FindStaleFunc != nil {
		return m.FindStaleFunc(ctx, cutoff)
	}
	return nil, nil
}

// MockConnectorRepository is a mock implementation of ConnectorRepository
type MockConnectorRepository struct {
	FindFunc         func(ctx context.Context, stationID string, connectorID int) (*domain.Connector, error)
	UpdateStatusFunc func(ctx context.Context, stationID string, connectorID int, status domain.StationStatus) error
}

func (m *MockConnectorRepository) Find(ctx context.Context, stationID string, connectorID int) (*domain.Connector, error) {
	if m.FindFunc != nil {
		return m.FindFunc(ctx, stationID, connectorID)
	}
	return nil, nil
}

func (m *MockConnectorRepository) UpdateStatus(ctx context.Context, stationID string, connectorID int, status domain.StationStatus) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, stationID, connectorID, status)
	}
	return nil
}

// MockSessionRepository is a mock implementation of SessionRepository
type MockSessionRepository struct {
	SaveFunc                    func(ctx context.Context, s *domain.ChargingSession) error
	UpdateFunc                  func(ctx context.Context, s *domain.ChargingSession) error
	FindByIDFunc                func(ctx context.Context, id string) (*domain.ChargingSession, error)
	FindByIdTagFunc             func(ctx context.Context, idTag string) (*domain.ChargingSession, error)
	FindByOcppTxIDFunc          func(ctx context.Context, stationID string, ocppTxID int) (*domain.ChargingSession, error)
	FindInFlightByClientFunc    func(ctx context.Context, clientID string) (*domain.ChargingSession, error)
	FindInFlightByConnectorFunc func(ctx context.Context, stationID string, connectorID int) (*domain.ChargingSession, error)
	TransitionFunc              func(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (bool, error)
	SettleFunc                  func(ctx context.Context, s *domain.ChargingSession, from []domain.SessionStatus, refund int64) (bool, error)
	FindStartingBeforeFunc      func(ctx context.Context, cutoff time.Time) ([]domain.ChargingSession, error)
	FindActiveBeforeFunc        func(ctx context.Context, cutoff time.Time) ([]domain.ChargingSession, error)
}

func (m *MockSessionRepository) Save(ctx context.Context, s *domain.ChargingSession) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, s)
	}
	return nil
}

func (m *MockSessionRepository) Update(ctx context.Context, s *domain.ChargingSession) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, s)
	}
	return nil
}

func (m *MockSessionRepository) FindByID(ctx context.Context, id string) (*domain.ChargingSession, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockSessionRepository) FindByIdTag(ctx context.Context, idTag string) (*domain.ChargingSession, error) {
	if m.FindByIdTagFunc != nil {
		return m.FindByIdTagFunc(ctx, idTag)
	}
	return nil, nil
}

func (m *MockSessionRepository) FindByOcppTxID(ctx context.Context, stationID string, ocppTxID int) (*domain.ChargingSession, error) {
	if m.FindByOcppTxIDFunc != nil {
		return m.FindByOcppTxIDFunc(ctx, stationID, ocppTxID)
	}
	return nil, nil
}

func (m *MockSessionRepository) FindInFlightByClient(ctx context.Context, clientID string) (*domain.ChargingSession, error) {
	if m.FindInFlightByClientFunc != nil {
		return m.FindInFlightByClientFunc(ctx, clientID)
	}
	return nil, nil
}

func (m *MockSessionRepository) FindInFlightByConnector(ctx context.Context, stationID string, connectorID int) (*domain.ChargingSession, error) {
	if m.FindInFlightByConnectorFunc != nil {
		return m.FindInFlightByConnectorFunc(ctx, stationID, connectorID)
	}
	return nil, nil
}

func (m *MockSessionRepository) Transition(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (bool, error) {
	if m.TransitionFunc != nil {
		return m.TransitionFunc(ctx, id, from, to)
	}
	return true, nil
}

func (m *MockSessionRepository) Settle(ctx context.Context, s *domain.ChargingSession, from []domain.SessionStatus, refund int64) (bool, error) {
	if m.SettleFunc != nil {
		return m.SettleFunc(ctx, s, from, refund)
	}
	return true, nil
}

func (m *MockSessionRepository) FindStartingBefore(ctx context.Context, cutoff time.Time) ([]domain.ChargingSession, error) {
	if m.FindStartingBeforeFunc != nil {
		return m.FindStartingBeforeFunc(ctx, cutoff)
	}
	return nil, nil
}

func (m *MockSessionRepository) FindActiveBefore(ctx context.Context, cutoff time.Time) ([]domain.ChargingSession, error) {
	if m.FindActiveBeforeFunc != nil {
		return m.FindActiveBeforeFunc(ctx, cutoff)
	}
	return nil, nil
}

// MockMeterSampleRepository is a mock implementation of MeterSampleRepository
type MockMeterSampleRepository struct {
	AppendFunc        func(ctx context.Context, samples []domain.MeterSample) error
	LastBySessionFunc func(ctx context.Context, sessionID string) (*domain.MeterSample, error)
}

func (m *MockMeterSampleRepository) Append(ctx context.Context, samples []domain.MeterSample) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, samples)
	}
	return nil
}

func (m *MockMeterSampleRepository) LastBySession(ctx context.Context, sessionID string) (*domain.MeterSample, error) {
	if m.LastBySessionFunc != nil {
		return m.LastBySessionFunc(ctx, sessionID)
	}
	return nil, nil
}

// MockTopUpRepository is a mock implementation of TopUpRepository
type MockTopUpRepository struct {
	SaveFunc                  func(ctx context.Context, t *domain.TopUp) error
	FindByIDFunc              func(ctx context.Context, id string) (*domain.TopUp, error)
	FindByProviderOrderIDFunc func(ctx context.Context, providerOrderID string) (*domain.TopUp, error)
	ApproveAndCreditFunc      func(ctx context.Context, providerOrderID string, paidAmount int64, at time.Time) (bool, error)
	ExpirePendingFunc         func(ctx context.Context, now time.Time) (int64, error)
}

func (m *MockTopUpRepository) Save(ctx context.Context, t *domain.TopUp) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, t)
	}
	return nil
}

func (m *MockTopUpRepository) FindByID(ctx context.Context, id string) (*domain.TopUp, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockTopUpRepository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*domain.TopUp, error) {
	if m.FindByProviderOrderIDFunc != nil {
		return m.FindByProviderOrderIDFunc(ctx, providerOrderID)
	}
	return nil, nil
}

func (m *MockTopUpRepository) ApproveAndCredit(ctx context.Context, providerOrderID string, paidAmount int64, at time.Time) (bool, error) {
	if m.ApproveAndCreditFunc != nil {
		return m.ApproveAndCreditFunc(ctx, providerOrderID, paidAmount, at)
	}
	return true, nil
}

func (m *MockTopUpRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	if m.ExpirePendingFunc != nil {
		return m.ExpirePendingFunc(ctx, now)
	}
	return 0, nil
}

// MockTariffRepository is a mock implementation of TariffRepository
type MockTariffRepository struct {
	FindEffectiveFunc func(ctx context.Context, stationID, locationID string, now time.Time) (*domain.TariffRule, error)
}

func (m *MockTariffRepository) FindEffective(ctx context.Context, stationID, locationID string, now time.Time) (*domain.TariffRule, error) {
	if m.FindEffectiveFunc != nil {
		return m.FindEffectiveFunc(ctx, stationID, locationID, now)
	}
	return nil, nil
}
