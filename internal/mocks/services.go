package mocks

import (
	"context"
	"time"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/ports"
)

// MockChargingService is a mock implementation of ChargingService
type MockChargingService struct {
	StartChargeFunc          func(ctx context.Context, req ports.StartChargeRequest) (*domain.ChargingSession, error)
	StopChargeFunc           func(ctx context.Context, sessionID, actor string) (*domain.ChargingSession, error)
	GetSessionFunc           func(ctx context.Context, sessionID string) (*domain.ChargingSession, error)
	AuthorizeFunc            func(ctx context.Context, idTag string) (bool, error)
	AttachTransactionFunc    func(ctx context.Context, stationID, idTag string, ocppTxID int, meterStart int64, at time.Time) (*domain.ChargingSession, error)
	RecordMeterValuesFunc    func(ctx context.Context, stationID string, ocppTxID int, samples []domain.MeterSample) error
	CompleteSessionFunc      func(ctx context.Context, stationID string, ocppTxID int, meterStop int64, reason string, at time.Time) (*domain.ChargingSession, error)
	FailConnectorSessionFunc func(ctx context.Context, stationID string, connectorID int) error
	ExpireSessionFunc        func(ctx context.Context, sessionID string) error
	ForceStopSessionFunc     func(ctx context.Context, sessionID string) error
}

func (m *MockChargingService) StartCharge(ctx context.Context, req ports.StartChargeRequest) (*domain.ChargingSession, error) {
	if m.StartChargeFunc != nil {
		return m.StartChargeFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockChargingService) StopCharge(ctx context.Context, sessionID, actor string) (*domain.ChargingSession, error) {
	if m.StopChargeFunc != nil {
		return m.StopChargeFunc(ctx, sessionID, actor)
	}
	return nil, nil
}

func (m *MockChargingService) GetSession(ctx context.Context, sessionID string) (*domain.ChargingSession, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, sessionID)
	}
	return nil, nil
}

func (m *MockChargingService) Authorize(ctx context.Context, idTag string) (bool, error) {
	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(ctx, idTag)
	}
	return true, nil
}

func (m *MockChargingService) AttachTransaction(ctx context.Context, stationID, idTag string, ocppTxID int, meterStart int64, at time.Time) (*domain.ChargingSession, error) {
	if m.AttachTransactionFunc != nil {
		return m.AttachTransactionFunc(ctx, stationID, idTag, ocppTxID, meterStart, at)
	}
	return nil, nil
}

func (m *MockChargingService) RecordMeterValues(ctx context.Context, stationID string, ocppTxID int, samples []domain.MeterSample) error {
	if m.RecordMeterValuesFunc != nil {
		return m.RecordMeterValuesFunc(ctx, stationID, ocppTxID, samples)
	}
	return nil
}

func (m *MockChargingService) CompleteSession(ctx context.Context, stationID string, ocppTxID int, meterStop int64, reason string, at time.Time) (*domain.ChargingSession, error) {
	if m.CompleteSessionFunc != nil {
		return m.CompleteSessionFunc(ctx, stationID, ocppTxID, meterStop, reason, at)
	}
	return nil, nil
}

func (m *MockChargingService) FailConnectorSession(ctx context.Context, stationID string, connectorID int) error {
	if m.FailConnectorSessionFunc != nil {
		return m.FailConnectorSessionFunc(ctx, stationID, connectorID)
	}
	return nil
}

func (m *MockChargingService) ExpireSession(ctx context.Context, sessionID string) error {
	if m.ExpireSessionFunc != nil {
		return m.ExpireSessionFunc(ctx, sessionID)
	}
	return nil
}

func (m *MockChargingService) ForceStopSession(ctx context.Context, sessionID string) error {
	if m.ForceStopSessionFunc != nil {
		return m.ForceStopSessionFunc(ctx, sessionID)
	}
	return nil
}

// MockPaymentService is a mock implementation of PaymentService
type MockPaymentService struct {
	CreateTopUpFunc   func(ctx context.Context, clientID string, amount int64) (*domain.TopUp, error)
	HandleWebhookFunc func(ctx context.Context, payload []byte, signature string) (string, error)
	GetBalanceFunc    func(ctx context.Context, clientID string) (*domain.Client, error)
}

func (m *MockPaymentService) CreateTopUp(ctx context.Context, clientID string, amount int64) (*domain.TopUp, error) {
	if m.CreateTopUpFunc != nil {
		return m.CreateTopUpFunc(ctx, clientID, amount)
	}
	return nil, nil
}

func (m *MockPaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	if m.HandleWebhookFunc != nil {
		return m.HandleWebhookFunc(ctx, payload, signature)
	}
	return "", nil
}

func (m *MockPaymentService) GetBalance(ctx context.Context, clientID string) (*domain.Client, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, clientID)
	}
	return nil, nil
}

// MockStationDirectory is a mock implementation of StationDirectory
type MockStationDirectory struct {
	HandleBootFunc         func(ctx context.Context, stationID string, info domain.BootInfo) (bool, error)
	HeartbeatFunc          func(ctx context.Context, stationID string) error
	SetConnectorStatusFunc func(ctx context.Context, stationID string, connectorID int, status domain.StationStatus) error
	StationStatusFunc      func(ctx context.Context, stationID string) (*domain.Station, error)
	MarkOfflineFunc        func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockStationDirectory) HandleBoot(ctx context.Context, stationID string, info domain.BootInfo) (bool, error) {
	if m.HandleBootFunc != nil {
		return m.HandleBootFunc(ctx, stationID, info)
	}
	return true, nil
}

func (m *MockStationDirectory) Heartbeat(ctx context.Context, stationID string) error {
	if m.HeartbeatFunc != nil {
		return m.HeartbeatFunc(ctx, stationID)
	}
	return nil
}

func (m *MockStationDirectory) SetConnectorStatus(ctx context.Context, stationID string, connectorID int, status domain.StationStatus) error {
	if m.SetConnectorStatusFunc != nil {
		return m.SetConnectorStatusFunc(ctx, stationID, connectorID, status)
	}
	return nil
}

func (m *MockStationDirectory) StationStatus(ctx context.Context, stationID string) (*domain.Station, error) {
	if m.StationStatusFunc != nil {
		return m.StationStatusFunc(ctx, stationID)
	}
	return nil, nil
}

func (m *MockStationDirectory) MarkOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.MarkOfflineFunc != nil {
		return m.MarkOfflineFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockPaymentProvider is a mock implementation of PaymentProvider
type MockPaymentProvider struct {
	NameFunc          func() string
	CreateInvoiceFunc func(ctx context.Context, clientID string, amount int64) (*ports.Invoice, error)
	VerifyWebhookFunc func(payload []byte, signature string) error
	ParseWebhookFunc  func(payload []byte) (*domain.WebhookEvent, error)
	AckBodyFunc       func() string
}

func (m *MockPaymentProvider) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

func (m *MockPaymentProvider) CreateInvoice(ctx context.Context, clientID string, amount int64) (*ports.Invoice, error) {
	if m.CreateInvoiceFunc != nil {
		return m.CreateInvoiceFunc(ctx, clientID, amount)
	}
	return &ports.Invoice{ProviderOrderID: "mock-order", QRPayload: "mock-qr"}, nil
}

func (m *MockPaymentProvider) VerifyWebhook(payload []byte, signature string) error {
	if m.VerifyWebhookFunc != nil {
		return m.VerifyWebhookFunc(payload, signature)
	}
	return nil
}

func (m *MockPaymentProvider) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	if m.ParseWebhookFunc != nil {
		return m.ParseWebhookFunc(payload)
	}
	return nil, nil
}

func (m *MockPaymentProvider) AckBody() string {
	if m.AckBodyFunc != nil {
		return m.AckBodyFunc()
	}
	return `{"status":"accepted"}`
}

// MockCommandRouter is a mock implementation of CommandRouter
type MockCommandRouter struct {
	PublishFunc   func(ctx context.Context, stationID string, name domain.CommandName, payload interface{}) error
	SubscribeFunc func(ctx context.Context, stationID string) (<-chan domain.Command, func(), error)
}

func (m *MockCommandRouter) Publish(ctx context.Context, stationID string, name domain.CommandName, payload interface{}) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, stationID, name, payload)
	}
	return nil
}

func (m *MockCommandRouter) Subscribe(ctx context.Context, stationID string) (<-chan domain.Command, func(), error) {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, stationID)
	}
	ch := make(chan domain.Command)
	return ch, func() { close(ch) }, nil
}

// MockStationRegistry is a mock implementation of StationRegistry
type MockStationRegistry struct {
	RegisterFunc    func(ctx context.Context, h ports.StationHandle) (int64, error)
	UnregisterFunc  func(ctx context.Context, stationID string, epoch int64) error
	LookupFunc      func(stationID string) (ports.StationHandle, bool)
	IsConnectedFunc func(ctx context.Context, stationID string) (bool, error)
	RefreshFunc     func(ctx context.Context, stationID string) error
}

func (m *MockStationRegistry) Register(ctx context.Context, h ports.StationHandle) (int64, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, h)
	}
	return 1, nil
}

func (m *MockStationRegistry) Unregister(ctx context.Context, stationID string, epoch int64) error {
	if m.UnregisterFunc != nil {
		return m.UnregisterFunc(ctx, stationID, epoch)
	}
	return nil
}

func (m *MockStationRegistry) Lookup(stationID string) (ports.StationHandle, bool) {
	if m.LookupFunc != nil {
		return m.LookupFunc(stationID)
	}
	return nil, false
}

func (m *MockStationRegistry) IsConnected(ctx context.Context, stationID string) (bool, error) {
	if m.IsConnectedFunc != nil {
		return m.IsConnectedFunc(ctx, stationID)
	}
	return true, nil
}

func (m *MockStationRegistry) Refresh(ctx context.Context, stationID string) error {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, stationID)
	}
	return nil
}

// MockStationHandle is a mock implementation of StationHandle
type MockStationHandle struct {
	ID          string
	HandleEpoch int64
	CloseFunc   func(reason string)
}

func (m *MockStationHandle) StationID() string { return m.ID }
func (m *MockStationHandle) Epoch() int64      { return m.HandleEpoch }

func (m *MockStationHandle) Close(reason string) {
	if m.CloseFunc != nil {
		m.CloseFunc(reason)
	}
}
