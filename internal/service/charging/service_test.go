package charging

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/mocks"
	"github.com/evpower/csms/internal/ports"
	"github.com/evpower/csms/pkg/config"
)

type fixture struct {
	sessions   *mocks.MockSessionRepository
	clients    *mocks.MockClientRepository
	stations   *mocks.MockStationRepository
	connectors *mocks.MockConnectorRepository
	meters     *mocks.MockMeterSampleRepository
	tariffs    *mocks.MockTariffRepository
	registry   *mocks.MockStationRegistry
	router     *mocks.MockCommandRouter
	mq         *mocks.MockMessageQueue
	svc        ports.ChargingService
}

func newFixture() *fixture {
	f := &fixture{
		sessions:   &mocks.MockSessionRepository{},
		clients:    &mocks.MockClientRepository{},
		stations:   &mocks.MockStationRepository{},
		connectors: &mocks.MockConnectorRepository{},
		meters:     &mocks.MockMeterSampleRepository{},
		tariffs:    &mocks.MockTariffRepository{},
		registry:   &mocks.MockStationRegistry{},
		router:     &mocks.MockCommandRouter{},
		mq:         mocks.NewMockMessageQueue(),
	}
	f.clients.FindByIDFunc = func(ctx context.Context, id string) (*domain.Client, error) {
		return &domain.Client{ID: id, Balance: 100000, Status: domain.ClientStatusActive}, nil
	}
	f.stations.FindByIDFunc = func(ctx context.Context, id string) (*domain.Station, error) {
		return &domain.Station{ID: id, PricePerKWh: 1500}, nil
	}
	f.connectors.FindFunc = func(ctx context.Context, stationID string, connectorID int) (*domain.Connector, error) {
		return &domain.Connector{StationID: stationID, ConnectorID: connectorID, Status: domain.StationStatusAvailable}, nil
	}
	f.svc = NewService(
		f.sessions, f.clients, f.stations, f.connectors, f.meters, f.tariffs,
		f.registry, f.router, f.mq,
		config.ChargingConfig{
			DefaultPricePerKWh:  1200,
			DefaultCurrency:     "KGS",
			UnlimitedReserveCap: 20000,
			UnlimitedReserveMin: 1000,
		},
		zap.NewNop(),
	)
	return f
}

func startRequest() ports.StartChargeRequest {
	return ports.StartChargeRequest{
		ClientID:    "client-1",
		StationID:   "ST-1",
		ConnectorID: 1,
		LimitKind:   domain.LimitKindEnergy,
		LimitValue:  10000, // 10 kWh
	}
}

func TestStartChargeReservesCeiledCost(t *testing.T) {
	f := newFixture()

	var reserved int64
	f.clients.ReserveFunc = func(ctx context.Context, clientID string, amount int64) error {
		reserved = amount
		return nil
	}
	var saved *domain.ChargingSession
	f.sessions.SaveFunc = func(ctx context.Context, s *domain.ChargingSession) error {
		saved = s
		return nil
	}
	var published domain.CommandName
	f.router.PublishFunc = func(ctx context.Context, stationID string, name domain.CommandName, payload interface{}) error {
		published = name
		return nil
	}

	session, err := f.svc.StartCharge(context.Background(), startRequest())
	if err != nil {
		t.Fatalf("StartCharge: %v", err)
	}
	// 10000 Wh at 1500 per kWh
	if reserved != 15000 {
		t.Errorf("reserved = %d, want 15000", reserved)
	}
	if saved == nil || saved.PricePerKWh != 1500 {
		t.Fatalf("session not saved with station price: %+v", saved)
	}
	if published != domain.CommandRemoteStartTransaction {
		t.Errorf("published command = %s", published)
	}
	if session.Status != domain.SessionStatusStarting {
		t.Errorf("status = %s, want starting", session.Status)
	}
	if len(f.mq.Published("charging.session.started")) != 1 {
		t.Error("started event not published")
	}
}

func TestStartChargeFallsBackToTariffThenDefault(t *testing.T) {
	f := newFixture()
	f.stations.FindByIDFunc = func(ctx context.Context, id string) (*domain.Station, error) {
		return &domain.Station{ID: id, LocationID: "loc-1"}, nil
	}
	f.tariffs.FindEffectiveFunc = func(ctx context.Context, stationID, locationID string, now time.Time) (*domain.TariffRule, error) {
		return &domain.TariffRule{PricePerKWh: 2000}, nil
	}
	var saved *domain.ChargingSession
	f.sessions.SaveFunc = func(ctx context.Context, s *domain.ChargingSession) error {
		saved = s
		return nil
	}

	if _, err := f.svc.StartCharge(context.Background(), startRequest()); err != nil {
		t.Fatalf("StartCharge: %v", err)
	}
	if saved.PricePerKWh != 2000 {
		t.Errorf("price = %d, want tariff 2000", saved.PricePerKWh)
	}

	// no tariff rule: configured default
	f2 := newFixture()
	f2.stations.FindByIDFunc = func(ctx context.Context, id string) (*domain.Station, error) {
		return &domain.Station{ID: id}, nil
	}
	f2.sessions.SaveFunc = func(ctx context.Context, s *domain.ChargingSession) error {
		saved = s
		return nil
	}
	if _, err := f2.svc.StartCharge(context.Background(), startRequest()); err != nil {
		t.Fatalf("StartCharge: %v", err)
	}
	if saved.PricePerKWh != 1200 {
		t.Errorf("price = %d, want default 1200", saved.PricePerKWh)
	}
}

func TestStartChargeInsufficientFunds(t *testing.T) {
	f := newFixture()
	f.clients.ReserveFunc = func(ctx context.Context, clientID string, amount int64) error {
		return domain.NewError(domain.KindInsufficientFunds, "balance too low")
	}
	saved := false
	f.sessions.SaveFunc = func(ctx context.Context, s *domain.ChargingSession) error {
		saved = true
		return nil
	}

	_, err := f.svc.StartCharge(context.Background(), startRequest())
	if domain.KindOf(err) != domain.KindInsufficientFunds {
		t.Fatalf("kind = %s, want InsufficientFunds", domain.KindOf(err))
	}
	if saved {
		t.Error("session persisted despite failed reservation")
	}
}

func TestStartChargeRefundsWhenRemoteStartUndeliverable(t *testing.T) {
	f := newFixture()
	f.router.PublishFunc = func(ctx context.Context, stationID string, name domain.CommandName, payload interface{}) error {
		return domain.NewError(domain.KindStationUnavailable, "no subscriber")
	}
	var credited int64
	f.clients.CreditFunc = func(ctx context.Context, clientID string, amount int64) error {
		credited = amount
		return nil
	}
	var transitionedTo domain.SessionStatus
	f.sessions.TransitionFunc = func(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (bool, error) {
		transitionedTo = to
		return true, nil
	}

	_, err := f.svc.StartCharge(context.Background(), startRequest())
	if domain.KindOf(err) != domain.KindStationUnavailable {
		t.Fatalf("kind = %s, want StationUnavailable", domain.KindOf(err))
	}
	if credited != 15000 {
		t.Errorf("refund = %d, want full reservation 15000", credited)
	}
	if transitionedTo != domain.SessionStatusFailed {
		t.Errorf("session transitioned to %s, want failed", transitionedTo)
	}
}

func TestStartChargeBusyClientAndConnector(t *testing.T) {
	f := newFixture()
	f.sessions.FindInFlightByClientFunc = func(ctx context.Context, clientID string) (*domain.ChargingSession, error) {
		return &domain.ChargingSession{ID: "other", Status: domain.SessionStatusActive}, nil
	}
	if _, err := f.svc.StartCharge(context.Background(), startRequest()); err != domain.ErrClientBusy {
		t.Errorf("err = %v, want ErrClientBusy", err)
	}

	f = newFixture()
	f.sessions.FindInFlightByConnectorFunc = func(ctx context.Context, stationID string, connectorID int) (*domain.ChargingSession, error) {
		return &domain.ChargingSession{ID: "other", Status: domain.SessionStatusActive}, nil
	}
	if _, err := f.svc.StartCharge(context.Background(), startRequest()); err != domain.ErrConnectorBusy {
		t.Errorf("err = %v, want ErrConnectorBusy", err)
	}
}

func TestStartChargeStationOffline(t *testing.T) {
	f := newFixture()
	f.registry.IsConnectedFunc = func(ctx context.Context, stationID string) (bool, error) {
		return false, nil
	}
	_, err := f.svc.StartCharge(context.Background(), startRequest())
	if domain.KindOf(err) != domain.KindStationUnavailable {
		t.Errorf("kind = %s, want StationUnavailable", domain.KindOf(err))
	}
}

func TestStartChargeRejectsUnavailableConnector(t *testing.T) {
	f := newFixture()
	f.connectors.FindFunc = func(ctx context.Context, stationID string, connectorID int) (*domain.Connector, error) {
		return &domain.Connector{StationID: stationID, ConnectorID: connectorID, Status: domain.StationStatusFaulted}, nil
	}
	reserved := false
	f.clients.ReserveFunc = func(ctx context.Context, clientID string, amount int64) error {
		reserved = true
		return nil
	}

	_, err := f.svc.StartCharge(context.Background(), startRequest())
	if domain.KindOf(err) != domain.KindStationUnavailable {
		t.Errorf("kind = %s, want StationUnavailable", domain.KindOf(err))
	}
	if reserved {
		t.Error("balance reserved for a faulted connector")
	}
}

func TestStartChargeUnlimitedReservation(t *testing.T) {
	f := newFixture()
	var reserved int64
	f.clients.ReserveFunc = func(ctx context.Context, clientID string, amount int64) error {
		reserved = amount
		return nil
	}

	req := startRequest()
	req.LimitKind = ""
	req.LimitValue = 0
	if _, err := f.svc.StartCharge(context.Background(), req); err != nil {
		t.Fatalf("StartCharge: %v", err)
	}
	// balance 100000 capped at 20000
	if reserved != 20000 {
		t.Errorf("reserved = %d, want cap 20000", reserved)
	}

	// balance below the minimum reservation
	f.clients.FindByIDFunc = func(ctx context.Context, id string) (*domain.Client, error) {
		return &domain.Client{ID: id, Balance: 500, Status: domain.ClientStatusActive}, nil
	}
	_, err := f.svc.StartCharge(context.Background(), req)
	if domain.KindOf(err) != domain.KindInsufficientFunds {
		t.Errorf("kind = %s, want InsufficientFunds", domain.KindOf(err))
	}
}

func TestStartChargeLimitValidation(t *testing.T) {
	f := newFixture()

	req := startRequest()
	req.LimitValue = -5
	if _, err := f.svc.StartCharge(context.Background(), req); domain.KindOf(err) != domain.KindInvalidArgument {
		t.Error("negative energy limit accepted")
	}

	req = startRequest()
	req.LimitKind = ""
	req.LimitValue = 100
	if _, err := f.svc.StartCharge(context.Background(), req); domain.KindOf(err) != domain.KindInvalidArgument {
		t.Error("limit value without kind accepted")
	}

	req = startRequest()
	req.LimitKind = "hours"
	if _, err := f.svc.StartCharge(context.Background(), req); domain.KindOf(err) != domain.KindInvalidArgument {
		t.Error("unknown limit kind accepted")
	}
}

func inFlightSession() *domain.ChargingSession {
	txID := 7
	started := time.Now().Add(-time.Hour)
	return &domain.ChargingSession{
		ID:             "sess-1",
		ClientID:       "client-1",
		StationID:      "ST-1",
		ConnectorID:    1,
		IdTag:          "tag-1",
		LimitKind:      domain.LimitKindEnergy,
		LimitValue:     10000,
		PricePerKWh:    1500,
		ReservedAmount: 15000,
		OcppTxID:       &txID,
		MeterStart:     1000,
		Status:         domain.SessionStatusActive,
		StartedAt:      &started,
	}
}

func TestAttachTransaction(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	session.Status = domain.SessionStatusStarting
	session.OcppTxID = nil
	f.sessions.FindByIdTagFunc = func(ctx context.Context, idTag string) (*domain.ChargingSession, error) {
		return session, nil
	}
	var updated *domain.ChargingSession
	f.sessions.UpdateFunc = func(ctx context.Context, s *domain.ChargingSession) error {
		updated = s
		return nil
	}

	got, err := f.svc.AttachTransaction(context.Background(), "ST-1", "tag-1", 42, 2000, time.Now())
	if err != nil {
		t.Fatalf("AttachTransaction: %v", err)
	}
	if updated == nil || updated.OcppTxID == nil || *updated.OcppTxID != 42 {
		t.Fatalf("transaction id not persisted: %+v", updated)
	}
	if updated.MeterStart != 2000 {
		t.Errorf("meter start = %d", updated.MeterStart)
	}
	if got.Status != domain.SessionStatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
}

func TestAttachTransactionDuringPendingWindow(t *testing.T) {
	// StartTransaction can land before the row leaves pending; the bind must
	// still succeed instead of failing the charge.
	f := newFixture()
	session := inFlightSession()
	session.Status = domain.SessionStatusPending
	session.OcppTxID = nil
	f.sessions.FindByIdTagFunc = func(ctx context.Context, idTag string) (*domain.ChargingSession, error) {
		return session, nil
	}
	var from []domain.SessionStatus
	f.sessions.TransitionFunc = func(ctx context.Context, id string, allowed []domain.SessionStatus, to domain.SessionStatus) (bool, error) {
		from = allowed
		return true, nil
	}

	got, err := f.svc.AttachTransaction(context.Background(), "ST-1", "tag-1", 42, 2000, time.Now())
	if err != nil {
		t.Fatalf("AttachTransaction: %v", err)
	}
	if got.Status != domain.SessionStatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if len(from) != 2 {
		t.Errorf("transition allowed from %v, want pending and starting", from)
	}
}

func TestAttachTransactionWrongState(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	session.Status = domain.SessionStatusStopped
	f.sessions.FindByIdTagFunc = func(ctx context.Context, idTag string) (*domain.ChargingSession, error) {
		return session, nil
	}
	_, err := f.svc.AttachTransaction(context.Background(), "ST-1", "tag-1", 42, 0, time.Now())
	if domain.KindOf(err) != domain.KindConflict {
		t.Errorf("kind = %s, want Conflict", domain.KindOf(err))
	}

	f.sessions.FindByIdTagFunc = func(ctx context.Context, idTag string) (*domain.ChargingSession, error) {
		return nil, nil
	}
	_, err = f.svc.AttachTransaction(context.Background(), "ST-1", "nope", 42, 0, time.Now())
	if domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("kind = %s, want NotFound", domain.KindOf(err))
	}
}

func TestRecordMeterValuesStopsAtLimit(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	f.sessions.FindByOcppTxIDFunc = func(ctx context.Context, stationID string, ocppTxID int) (*domain.ChargingSession, error) {
		return session, nil
	}
	var appended []domain.MeterSample
	f.meters.AppendFunc = func(ctx context.Context, samples []domain.MeterSample) error {
		appended = samples
		return nil
	}
	stops := 0
	f.router.PublishFunc = func(ctx context.Context, stationID string, name domain.CommandName, payload interface{}) error {
		if name == domain.CommandRemoteStopTransaction {
			stops++
		}
		return nil
	}

	// 5 kWh of a 10 kWh limit: no stop yet
	err := f.svc.RecordMeterValues(context.Background(), "ST-1", 7,
		[]domain.MeterSample{{MeterWh: 6000, Timestamp: time.Now()}})
	if err != nil {
		t.Fatalf("RecordMeterValues: %v", err)
	}
	if stops != 0 {
		t.Fatal("stopped before the limit")
	}
	if len(appended) != 1 || appended[0].SessionID != "sess-1" {
		t.Errorf("samples not bound to session: %+v", appended)
	}

	// limit is meterStart + 10000 = 11000
	err = f.svc.RecordMeterValues(context.Background(), "ST-1", 7,
		[]domain.MeterSample{{MeterWh: 11000, Timestamp: time.Now()}})
	if err != nil {
		t.Fatalf("RecordMeterValues: %v", err)
	}
	if stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
}

func TestRecordMeterValuesSingleStopUnderRedelivery(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	f.sessions.FindByOcppTxIDFunc = func(ctx context.Context, stationID string, ocppTxID int) (*domain.ChargingSession, error) {
		return session, nil
	}
	wins := 0
	f.sessions.TransitionFunc = func(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (bool, error) {
		wins++
		return wins == 1, nil // only the first transition wins
	}
	stops := 0
	f.router.PublishFunc = func(ctx context.Context, stationID string, name domain.CommandName, payload interface{}) error {
		stops++
		return nil
	}

	for i := 0; i < 3; i++ {
		err := f.svc.RecordMeterValues(context.Background(), "ST-1", 7,
			[]domain.MeterSample{{MeterWh: 12000, Timestamp: time.Now()}})
		if err != nil {
			t.Fatalf("RecordMeterValues: %v", err)
		}
	}
	if stops != 1 {
		t.Errorf("stops = %d, want exactly 1", stops)
	}
}

func TestRecordMeterValuesUnknownTransaction(t *testing.T) {
	f := newFixture()
	err := f.svc.RecordMeterValues(context.Background(), "ST-1", 99,
		[]domain.MeterSample{{MeterWh: 100}})
	if domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("kind = %s, want NotFound", domain.KindOf(err))
	}
}

func TestCompleteSessionConservation(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	f.sessions.FindByOcppTxIDFunc = func(ctx context.Context, stationID string, ocppTxID int) (*domain.ChargingSession, error) {
		return session, nil
	}
	var settled *domain.ChargingSession
	var refund int64
	f.sessions.SettleFunc = func(ctx context.Context, s *domain.ChargingSession, from []domain.SessionStatus, r int64) (bool, error) {
		settled = s
		refund = r
		return true, nil
	}

	// 5 kWh delivered: meter 1000 → 6000
	got, err := f.svc.CompleteSession(context.Background(), "ST-1", 7, 6000, "Local", time.Now())
	if err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if settled.AmountCharged != 7500 {
		t.Errorf("charged = %d, want 7500", settled.AmountCharged)
	}
	if refund != 7500 {
		t.Errorf("refund = %d, want 7500", refund)
	}
	if settled.AmountCharged+settled.RefundAmount != settled.ReservedAmount {
		t.Error("charged + refund != reserved")
	}
	if got.Status != domain.SessionStatusStopped {
		t.Errorf("status = %s", got.Status)
	}
	if len(f.mq.Published("charging.session.stopped")) != 1 {
		t.Error("stopped event not published")
	}
}

func TestCompleteSessionAlreadySettled(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	session.Status = domain.SessionStatusStopped
	f.sessions.FindByOcppTxIDFunc = func(ctx context.Context, stationID string, ocppTxID int) (*domain.ChargingSession, error) {
		return session, nil
	}
	_, err := f.svc.CompleteSession(context.Background(), "ST-1", 7, 6000, "Local", time.Now())
	if domain.KindOf(err) != domain.KindConflict {
		t.Errorf("kind = %s, want Conflict", domain.KindOf(err))
	}

	// concurrent settle loses the CAS
	session.Status = domain.SessionStatusActive
	f.sessions.SettleFunc = func(ctx context.Context, s *domain.ChargingSession, from []domain.SessionStatus, r int64) (bool, error) {
		return false, nil
	}
	_, err = f.svc.CompleteSession(context.Background(), "ST-1", 7, 6000, "Local", time.Now())
	if domain.KindOf(err) != domain.KindConflict {
		t.Errorf("kind = %s, want Conflict", domain.KindOf(err))
	}
}

func TestStopChargeIdempotent(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	session.Status = domain.SessionStatusStopping
	f.sessions.FindByIDFunc = func(ctx context.Context, id string) (*domain.ChargingSession, error) {
		return session, nil
	}
	published := false
	f.router.PublishFunc = func(ctx context.Context, stationID string, name domain.CommandName, payload interface{}) error {
		published = true
		return nil
	}

	got, err := f.svc.StopCharge(context.Background(), "sess-1", "client")
	if err != nil {
		t.Fatalf("StopCharge: %v", err)
	}
	if got.Status != domain.SessionStatusStopping {
		t.Errorf("status = %s", got.Status)
	}
	if published {
		t.Error("repeat stop published another RemoteStop")
	}
}

func TestStopChargeBeforeTransactionExpires(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	session.Status = domain.SessionStatusStarting
	session.OcppTxID = nil
	f.sessions.FindByIDFunc = func(ctx context.Context, id string) (*domain.ChargingSession, error) {
		return session, nil
	}
	var credited int64
	f.clients.CreditFunc = func(ctx context.Context, clientID string, amount int64) error {
		credited = amount
		return nil
	}

	if _, err := f.svc.StopCharge(context.Background(), "sess-1", "client"); err != nil {
		t.Fatalf("StopCharge: %v", err)
	}
	if credited != 15000 {
		t.Errorf("refund = %d, want full reservation", credited)
	}
}

func TestForceStopBillsFromLastSample(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	nudged := time.Now().Add(-30 * time.Minute)
	session.StopRequestedAt = &nudged
	f.sessions.FindByIDFunc = func(ctx context.Context, id string) (*domain.ChargingSession, error) {
		return session, nil
	}
	f.meters.LastBySessionFunc = func(ctx context.Context, sessionID string) (*domain.MeterSample, error) {
		return &domain.MeterSample{SessionID: sessionID, MeterWh: 3000}, nil
	}
	var settled *domain.ChargingSession
	f.sessions.SettleFunc = func(ctx context.Context, s *domain.ChargingSession, from []domain.SessionStatus, r int64) (bool, error) {
		settled = s
		return true, nil
	}

	if err := f.svc.ForceStopSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("ForceStopSession: %v", err)
	}
	// 2000 Wh at 1500/kWh = 3000 charged, 12000 back
	if settled.AmountCharged != 3000 || settled.RefundAmount != 12000 {
		t.Errorf("charged/refund = %d/%d, want 3000/12000", settled.AmountCharged, settled.RefundAmount)
	}
	if settled.Status != domain.SessionStatusFailed {
		t.Errorf("status = %s, want failed", settled.Status)
	}
}

func TestForceStopWithoutSamplesRefundsAll(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	nudged := time.Now().Add(-30 * time.Minute)
	session.StopRequestedAt = &nudged
	f.sessions.FindByIDFunc = func(ctx context.Context, id string) (*domain.ChargingSession, error) {
		return session, nil
	}
	var refund int64
	f.sessions.SettleFunc = func(ctx context.Context, s *domain.ChargingSession, from []domain.SessionStatus, r int64) (bool, error) {
		refund = r
		return true, nil
	}

	if err := f.svc.ForceStopSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("ForceStopSession: %v", err)
	}
	if refund != 15000 {
		t.Errorf("refund = %d, want full reservation", refund)
	}
}

func TestForceStopNudgesBeforeSettling(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	f.sessions.FindByIDFunc = func(ctx context.Context, id string) (*domain.ChargingSession, error) {
		return session, nil
	}
	stops := 0
	f.router.PublishFunc = func(ctx context.Context, stationID string, name domain.CommandName, payload interface{}) error {
		if name == domain.CommandRemoteStopTransaction {
			stops++
		}
		return nil
	}
	f.sessions.UpdateFunc = func(ctx context.Context, s *domain.ChargingSession) error {
		session = s
		return nil
	}
	settles := 0
	f.sessions.SettleFunc = func(ctx context.Context, s *domain.ChargingSession, from []domain.SessionStatus, r int64) (bool, error) {
		settles++
		return true, nil
	}

	// first pass: remote stop only, the station keeps the authoritative meter
	if err := f.svc.ForceStopSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("first ForceStopSession: %v", err)
	}
	if stops != 1 {
		t.Fatalf("remote stops after first pass = %d, want 1", stops)
	}
	if settles != 0 {
		t.Fatal("session settled in the same pass that requested the stop")
	}
	if session.StopRequestedAt == nil {
		t.Fatal("stop request not recorded on the session")
	}
	if session.Status != domain.SessionStatusActive {
		t.Errorf("status = %s, want still active", session.Status)
	}

	// second pass: the station never reported the stop, settle from samples
	if err := f.svc.ForceStopSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("second ForceStopSession: %v", err)
	}
	if settles != 1 {
		t.Errorf("settles after second pass = %d, want 1", settles)
	}
}

func TestForceStopSettlesWhenStopUndeliverable(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	f.sessions.FindByIDFunc = func(ctx context.Context, id string) (*domain.ChargingSession, error) {
		return session, nil
	}
	f.router.PublishFunc = func(ctx context.Context, stationID string, name domain.CommandName, payload interface{}) error {
		return domain.NewError(domain.KindStationUnavailable, "station is not connected")
	}
	settles := 0
	f.sessions.SettleFunc = func(ctx context.Context, s *domain.ChargingSession, from []domain.SessionStatus, r int64) (bool, error) {
		settles++
		return true, nil
	}

	// no station to answer a nudge, so waiting a sweep buys nothing
	if err := f.svc.ForceStopSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("ForceStopSession: %v", err)
	}
	if settles != 1 {
		t.Errorf("settles = %d, want 1", settles)
	}
}

func TestExpireSessionRefundsOnce(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	session.Status = domain.SessionStatusStarting
	session.OcppTxID = nil
	f.sessions.FindByIDFunc = func(ctx context.Context, id string) (*domain.ChargingSession, error) {
		return session, nil
	}
	credits := 0
	f.clients.CreditFunc = func(ctx context.Context, clientID string, amount int64) error {
		credits++
		return nil
	}
	wins := 0
	f.sessions.TransitionFunc = func(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (bool, error) {
		wins++
		return wins == 1, nil
	}

	if err := f.svc.ExpireSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("ExpireSession: %v", err)
	}
	if err := f.svc.ExpireSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("repeat ExpireSession: %v", err)
	}
	if credits != 1 {
		t.Errorf("credits = %d, want exactly 1", credits)
	}
}

func TestExpireSessionWithTransactionRefused(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	f.sessions.FindByIDFunc = func(ctx context.Context, id string) (*domain.ChargingSession, error) {
		return session, nil
	}
	err := f.svc.ExpireSession(context.Background(), "sess-1")
	if domain.KindOf(err) != domain.KindConflict {
		t.Errorf("kind = %s, want Conflict", domain.KindOf(err))
	}
}

func TestFailConnectorSessionSettles(t *testing.T) {
	f := newFixture()
	session := inFlightSession()
	f.sessions.FindInFlightByConnectorFunc = func(ctx context.Context, stationID string, connectorID int) (*domain.ChargingSession, error) {
		return session, nil
	}
	var settled *domain.ChargingSession
	f.sessions.SettleFunc = func(ctx context.Context, s *domain.ChargingSession, from []domain.SessionStatus, r int64) (bool, error) {
		settled = s
		return true, nil
	}

	if err := f.svc.FailConnectorSession(context.Background(), "ST-1", 1); err != nil {
		t.Fatalf("FailConnectorSession: %v", err)
	}
	if settled == nil || settled.Status != domain.SessionStatusFailed {
		t.Fatalf("session not failed: %+v", settled)
	}
	if settled.StopReason != "ConnectorFault" {
		t.Errorf("stop reason = %s", settled.StopReason)
	}
	if len(f.mq.Published("charging.session.failed")) != 1 {
		t.Error("failed event not published")
	}

	// no in-flight session on the connector is a no-op
	f.sessions.FindInFlightByConnectorFunc = func(ctx context.Context, stationID string, connectorID int) (*domain.ChargingSession, error) {
		return nil, nil
	}
	if err := f.svc.FailConnectorSession(context.Background(), "ST-1", 2); err != nil {
		t.Errorf("no-op fail returned %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	f := newFixture()
	f.sessions.FindByIdTagFunc = func(ctx context.Context, idTag string) (*domain.ChargingSession, error) {
		if idTag == "starting-tag" {
			return &domain.ChargingSession{ID: "s", Status: domain.SessionStatusStarting}, nil
		}
		if idTag == "pending-tag" {
			return &domain.ChargingSession{ID: "s", Status: domain.SessionStatusPending}, nil
		}
		if idTag == "stopped-tag" {
			return &domain.ChargingSession{ID: "s", Status: domain.SessionStatusStopped}, nil
		}
		return nil, nil
	}

	if ok, _ := f.svc.Authorize(context.Background(), "starting-tag"); !ok {
		t.Error("starting session tag rejected")
	}
	if ok, _ := f.svc.Authorize(context.Background(), "pending-tag"); !ok {
		t.Error("pending session tag rejected")
	}
	if ok, _ := f.svc.Authorize(context.Background(), "stopped-tag"); ok {
		t.Error("stopped session tag accepted")
	}
	if ok, _ := f.svc.Authorize(context.Background(), "unknown"); ok {
		t.Error("unknown tag accepted")
	}
	if ok, _ := f.svc.Authorize(context.Background(), ""); ok {
		t.Error("empty tag accepted")
	}
}
