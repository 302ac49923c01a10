package charging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evpower/csms/internal/adapter/queue"
	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/observability/telemetry"
	"github.com/evpower/csms/internal/ports"
	"github.com/evpower/csms/pkg/config"
)

// settleableStatuses are the states a session may be settled from. A session
// already terminal loses the settle CAS, which keeps refunds exactly-once.
var settleableStatuses = []domain.SessionStatus{
	domain.SessionStatusPending,
	domain.SessionStatusStarting,
	domain.SessionStatusActive,
	domain.SessionStatusStopping,
}

// Service is the single writer of charging sessions. All money movement goes
// through conditional repository operations, so concurrent stops, webhooks and
// reconciler sweeps cannot double-charge or double-refund.
type Service struct {
	sessions   ports.SessionRepository
	clients    ports.ClientRepository
	stations   ports.StationRepository
	connectors ports.ConnectorRepository
	meters     ports.MeterSampleRepository
	tariffs    ports.TariffRepository
	registry   ports.StationRegistry
	router     ports.CommandRouter
	mq         queue.MessageQueue
	cfg        config.ChargingConfig
	log        *zap.Logger
}

func NewService(
	sessions ports.SessionRepository,
	clients ports.ClientRepository,
	stations ports.StationRepository,
	connectors ports.ConnectorRepository,
	meters ports.MeterSampleRepository,
	tariffs ports.TariffRepository,
	registry ports.StationRegistry,
	router ports.CommandRouter,
	mq queue.MessageQueue,
	cfg config.ChargingConfig,
	log *zap.Logger,
) ports.ChargingService {
	return &Service{
		sessions:   sessions,
		clients:    clients,
		stations:   stations,
		connectors: connectors,
		meters:     meters,
		tariffs:    tariffs,
		registry:   registry,
		router:     router,
		mq:         mq,
		cfg:        cfg,
		log:        log,
	}
}

func (s *Service) StartCharge(ctx context.Context, req ports.StartChargeRequest) (*domain.ChargingSession, error) {
	if req.ClientID == "" || req.StationID == "" {
		return nil, domain.NewError(domain.KindInvalidArgument, "client_id and station_id are required")
	}
	if req.ConnectorID < 1 {
		return nil, domain.NewError(domain.KindInvalidArgument, "connector_id must be >= 1")
	}

	client, err := s.clients.FindByID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.NewError(domain.KindNotFound, "client not found")
	}
	if client.Status == domain.ClientStatusBlocked {
		return nil, domain.NewError(domain.KindForbidden, "client is blocked")
	}

	if inFlight, err := s.sessions.FindInFlightByClient(ctx, req.ClientID); err != nil {
		return nil, err
	} else if inFlight != nil {
		return nil, domain.ErrClientBusy
	}
	if inFlight, err := s.sessions.FindInFlightByConnector(ctx, req.StationID, req.ConnectorID); err != nil {
		return nil, err
	} else if inFlight != nil {
		return nil, domain.ErrConnectorBusy
	}

	station, err := s.stations.FindByID(ctx, req.StationID)
	if err != nil {
		return nil, err
	}
	if station == nil {
		return nil, domain.NewError(domain.KindNotFound, "station not found")
	}
	connector, err := s.connectors.Find(ctx, req.StationID, req.ConnectorID)
	if err != nil {
		return nil, err
	}
	if connector == nil {
		return nil, domain.NewError(domain.KindNotFound, "connector not found")
	}
	if connector.Status != domain.StationStatusAvailable {
		return nil, domain.Errorf(domain.KindStationUnavailable, "connector is %s", connector.Status)
	}

	connected, err := s.registry.IsConnected(ctx, req.StationID)
	if err != nil {
		return nil, err
	}
	if !connected {
		return nil, domain.NewError(domain.KindStationUnavailable, "station is not connected")
	}

	price := s.resolvePrice(ctx, station)
	if price <= 0 {
		return nil, domain.NewError(domain.KindInternal, "no tariff resolvable for station")
	}

	limitKind, limitValue, reserved, err := s.computeReservation(req, client.Balance, price)
	if err != nil {
		return nil, err
	}

	if err := s.clients.Reserve(ctx, req.ClientID, reserved); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &domain.ChargingSession{
		ID:             uuid.New().String(),
		ClientID:       req.ClientID,
		StationID:      req.StationID,
		ConnectorID:    req.ConnectorID,
		IdTag:          uuid.New().String(),
		LimitKind:      limitKind,
		LimitValue:     limitValue,
		PricePerKWh:    price,
		ReservedAmount: reserved,
		Status:         domain.SessionStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		s.compensateReservation(ctx, req.ClientID, reserved, "session insert failed")
		return nil, err
	}

	err = s.router.Publish(ctx, req.StationID, domain.CommandRemoteStartTransaction, domain.RemoteStartPayload{
		ConnectorID: req.ConnectorID,
		IdTag:       session.IdTag,
	})
	if err != nil {
		if ok, terr := s.sessions.Transition(ctx, session.ID, []domain.SessionStatus{domain.SessionStatusPending}, domain.SessionStatusFailed); terr == nil && ok {
			s.compensateReservation(ctx, req.ClientID, reserved, "remote start undeliverable")
		}
		return nil, err
	}

	if _, err := s.sessions.Transition(ctx, session.ID, []domain.SessionStatus{domain.SessionStatusPending}, domain.SessionStatusStarting); err != nil {
		return nil, err
	}
	session.Status = domain.SessionStatusStarting

	telemetry.AmountReservedTotal.Add(float64(reserved))
	telemetry.ActiveChargingSessions.Inc()
	s.publishEvent(queue.SubjectSessionStarted, session)

	s.log.Info("charge started",
		zap.String("session_id", session.ID),
		zap.String("client_id", req.ClientID),
		zap.String("station_id", req.StationID),
		zap.Int64("reserved", reserved))
	return session, nil
}

// resolvePrice picks the per-kWh price: station override, then the effective
// tariff rule, then the configured default.
func (s *Service) resolvePrice(ctx context.Context, station *domain.Station) int64 {
	if station.PricePerKWh > 0 {
		return station.PricePerKWh
	}
	rule, err := s.tariffs.FindEffective(ctx, station.ID, station.LocationID, time.Now().UTC())
	if err != nil {
		s.log.Warn("tariff lookup failed, using default",
			zap.String("station_id", station.ID),
			zap.Error(err))
	}
	if rule != nil {
		return rule.PricePerKWh
	}
	return s.cfg.DefaultPricePerKWh
}

// computeReservation maps the requested limit to the amount held from the
// balance. An empty limit kind means "charge until I stop": the reservation is
// the full balance capped by configuration.
func (s *Service) computeReservation(req ports.StartChargeRequest, balance, price int64) (domain.LimitKind, int64, int64, error) {
	switch req.LimitKind {
	case "":
		if req.LimitValue != 0 {
			return "", 0, 0, domain.NewError(domain.KindInvalidArgument, "limit_value requires a limit_kind")
		}
		reserved := balance
		if s.cfg.UnlimitedReserveCap > 0 && reserved > s.cfg.UnlimitedReserveCap {
			reserved = s.cfg.UnlimitedReserveCap
		}
		if reserved < s.cfg.UnlimitedReserveMin {
			return "", 0, 0, domain.NewError(domain.KindInsufficientFunds, "balance below minimum reservation")
		}
		return domain.LimitKindAmount, reserved, reserved, nil
	case domain.LimitKindEnergy:
		if req.LimitValue <= 0 {
			return "", 0, 0, domain.NewError(domain.KindInvalidArgument, "energy limit must be positive")
		}
		reserved := domain.CostOf(req.LimitValue, price)
		if reserved <= 0 {
			return "", 0, 0, domain.NewError(domain.KindInvalidArgument, "energy limit too small to bill")
		}
		return domain.LimitKindEnergy, req.LimitValue, reserved, nil
	case domain.LimitKindAmount:
		if req.LimitValue <= 0 {
			return "", 0, 0, domain.NewError(domain.KindInvalidArgument, "amount limit must be positive")
		}
		return domain.LimitKindAmount, req.LimitValue, req.LimitValue, nil
	default:
		return "", 0, 0, domain.Errorf(domain.KindInvalidArgument, "unknown limit kind %q", req.LimitKind)
	}
}

func (s *Service) compensateReservation(ctx context.Context, clientID string, amount int64, cause string) {
	if err := s.clients.Credit(ctx, clientID, amount); err != nil {
		// The reconciler cannot see this hold, so it must be loud.
		s.log.Error("reservation refund failed",
			zap.String("client_id", clientID),
			zap.Int64("amount", amount),
			zap.String("cause", cause),
			zap.Error(err))
		return
	}
	telemetry.AmountRefundedTotal.Add(float64(amount))
}

func (s *Service) StopCharge(ctx context.Context, sessionID, actor string) (*domain.ChargingSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.NewError(domain.KindNotFound, "session not found")
	}
	if session.Status.Terminal() || session.Status == domain.SessionStatusStopping {
		return session, nil
	}

	// Nothing running on the station yet: release the hold instead of asking
	// the station to stop a transaction it never confirmed.
	if session.OcppTxID == nil {
		if err := s.ExpireSession(ctx, session.ID); err != nil {
			return nil, err
		}
		return s.sessions.FindByID(ctx, sessionID)
	}

	won, err := s.sessions.Transition(ctx, session.ID,
		[]domain.SessionStatus{domain.SessionStatusStarting, domain.SessionStatusActive},
		domain.SessionStatusStopping)
	if err != nil {
		return nil, err
	}
	if won {
		session.Status = domain.SessionStatusStopping
		err := s.router.Publish(ctx, session.StationID, domain.CommandRemoteStopTransaction, domain.RemoteStopPayload{
			TransactionID: *session.OcppTxID,
		})
		if err != nil {
			// Stays stopping; the reconciler force-settles if the station
			// never comes back to report the stop.
			s.log.Warn("remote stop undeliverable",
				zap.String("session_id", session.ID),
				zap.String("actor", actor),
				zap.Error(err))
		}
	}
	s.log.Info("stop requested",
		zap.String("session_id", session.ID),
		zap.String("actor", actor))
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.ChargingSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.NewError(domain.KindNotFound, "session not found")
	}
	return session, nil
}

// Authorize accepts an idTag only while a session is waiting for the station
// to confirm the start. The reservation already debited the balance, so the
// session state is the authorization source, not the remaining balance.
func (s *Service) Authorize(ctx context.Context, idTag string) (bool, error) {
	if idTag == "" {
		return false, nil
	}
	session, err := s.sessions.FindByIdTag(ctx, idTag)
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, nil
	}
	return session.Status == domain.SessionStatusPending || session.Status == domain.SessionStatusStarting, nil
}

func (s *Service) AttachTransaction(ctx context.Context, stationID, idTag string, ocppTxID int, meterStart int64, at time.Time) (*domain.ChargingSession, error) {
	session, err := s.sessions.FindByIdTag(ctx, idTag)
	if err != nil {
		return nil, err
	}
	if session == nil || session.StationID != stationID {
		return nil, domain.NewError(domain.KindNotFound, "no session for id tag")
	}
	// The station can answer RemoteStart before the row leaves pending.
	if session.Status != domain.SessionStatusPending && session.Status != domain.SessionStatusStarting {
		return nil, domain.Errorf(domain.KindConflict, "session is %s, not awaiting start", session.Status)
	}

	session.OcppTxID = &ocppTxID
	session.MeterStart = meterStart
	session.StartedAt = &at
	session.UpdatedAt = time.Now().UTC()
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}

	won, err := s.sessions.Transition(ctx, session.ID,
		[]domain.SessionStatus{domain.SessionStatusPending, domain.SessionStatusStarting},
		domain.SessionStatusActive)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.NewError(domain.KindConflict, "session left the start window concurrently")
	}
	session.Status = domain.SessionStatusActive

	s.publishEvent(queue.SubjectSessionActive, session)
	s.log.Info("transaction attached",
		zap.String("session_id", session.ID),
		zap.Int("ocpp_tx_id", ocppTxID),
		zap.Int64("meter_start", meterStart))
	return session, nil
}

func (s *Service) RecordMeterValues(ctx context.Context, stationID string, ocppTxID int, samples []domain.MeterSample) error {
	if len(samples) == 0 {
		return nil
	}
	session, err := s.sessions.FindByOcppTxID(ctx, stationID, ocppTxID)
	if err != nil {
		return err
	}
	if session == nil {
		return domain.NewError(domain.KindNotFound, "no session for transaction")
	}
	if !session.Status.InFlight() {
		return domain.Errorf(domain.KindConflict, "session is %s", session.Status)
	}

	for i := range samples {
		samples[i].SessionID = session.ID
	}
	if err := s.meters.Append(ctx, samples); err != nil {
		return err
	}

	last := samples[len(samples)-1].MeterWh
	if session.LimitReached(last) {
		// Only the transition winner asks the station to stop, so a stream of
		// over-limit samples produces a single RemoteStop.
		won, err := s.sessions.Transition(ctx, session.ID,
			[]domain.SessionStatus{domain.SessionStatusActive}, domain.SessionStatusStopping)
		if err != nil {
			return err
		}
		if won {
			s.log.Info("limit reached, stopping",
				zap.String("session_id", session.ID),
				zap.Int64("last_meter_wh", last))
			err := s.router.Publish(ctx, stationID, domain.CommandRemoteStopTransaction, domain.RemoteStopPayload{
				TransactionID: ocppTxID,
			})
			if err != nil {
				s.log.Warn("remote stop undeliverable after limit",
					zap.String("session_id", session.ID),
					zap.Error(err))
			}
		}
	}
	return nil
}

func (s *Service) CompleteSession(ctx context.Context, stationID string, ocppTxID int, meterStop int64, reason string, at time.Time) (*domain.ChargingSession, error) {
	session, err := s.sessions.FindByOcppTxID(ctx, stationID, ocppTxID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.NewError(domain.KindNotFound, "no session for transaction")
	}
	if session.Status.Terminal() {
		return nil, domain.Errorf(domain.KindConflict, "session already %s", session.Status)
	}

	energy, charged, refund := session.Settle(meterStop)
	session.MeterStop = meterStop
	session.EnergyDelivered = energy
	session.AmountCharged = charged
	session.RefundAmount = refund
	session.Status = domain.SessionStatusStopped
	session.StopReason = reason
	session.StoppedAt = &at

	won, err := s.sessions.Settle(ctx, session, settleableStatuses, refund)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.NewError(domain.KindConflict, "session settled concurrently")
	}

	telemetry.EnergyDeliveredTotal.Add(float64(energy))
	telemetry.AmountRefundedTotal.Add(float64(refund))
	telemetry.ActiveChargingSessions.Dec()
	s.publishEvent(queue.SubjectSessionStopped, session)

	s.log.Info("session settled",
		zap.String("session_id", session.ID),
		zap.Int64("energy_wh", energy),
		zap.Int64("charged", charged),
		zap.Int64("refund", refund),
		zap.String("reason", reason))
	return session, nil
}

func (s *Service) FailConnectorSession(ctx context.Context, stationID string, connectorID int) error {
	session, err := s.sessions.FindInFlightByConnector(ctx, stationID, connectorID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	return s.forceSettle(ctx, session, "ConnectorFault", queue.SubjectSessionFailed)
}

func (s *Service) ExpireSession(ctx context.Context, sessionID string) error {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return domain.NewError(domain.KindNotFound, "session not found")
	}
	if session.OcppTxID != nil {
		return domain.NewError(domain.KindConflict, "session has a confirmed transaction")
	}

	won, err := s.sessions.Transition(ctx, session.ID,
		[]domain.SessionStatus{domain.SessionStatusPending, domain.SessionStatusStarting},
		domain.SessionStatusExpired)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	s.compensateReservation(ctx, session.ClientID, session.ReservedAmount, "session expired")
	telemetry.ActiveChargingSessions.Dec()
	session.Status = domain.SessionStatusExpired
	session.RefundAmount = session.ReservedAmount
	s.publishEvent(queue.SubjectSessionExpired, session)

	s.log.Info("session expired",
		zap.String("session_id", session.ID),
		zap.Int64("refund", session.ReservedAmount))
	return nil
}

// ForceStopSession ends an overrunning session in two passes. The first pass
// only asks the station to stop, so its StopTransaction can settle with the
// authoritative meter reading. A session still running on the next pass, or
// one whose station is unreachable, is settled from the last known sample.
func (s *Service) ForceStopSession(ctx context.Context, sessionID string) error {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return domain.NewError(domain.KindNotFound, "session not found")
	}
	if session.Status.Terminal() {
		return nil
	}

	if session.OcppTxID != nil && session.StopRequestedAt == nil {
		err := s.router.Publish(ctx, session.StationID, domain.CommandRemoteStopTransaction, domain.RemoteStopPayload{
			TransactionID: *session.OcppTxID,
		})
		if err == nil {
			now := time.Now().UTC()
			session.StopRequestedAt = &now
			session.UpdatedAt = now
			if err := s.sessions.Update(ctx, session); err != nil {
				return err
			}
			s.log.Info("stop requested for overrunning session",
				zap.String("session_id", session.ID))
			return nil
		}
		s.log.Debug("remote stop undeliverable, settling from last sample",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}
	return s.forceSettle(ctx, session, "Forced", queue.SubjectSessionFailed)
}

// forceSettle ends a session without a StopTransaction from the station,
// billing up to the last known meter sample and refunding the rest.
func (s *Service) forceSettle(ctx context.Context, session *domain.ChargingSession, reason, subject string) error {
	if session.OcppTxID != nil {
		err := s.router.Publish(ctx, session.StationID, domain.CommandRemoteStopTransaction, domain.RemoteStopPayload{
			TransactionID: *session.OcppTxID,
		})
		if err != nil {
			s.log.Debug("remote stop undeliverable during forced settle",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}

	meterStop := session.MeterStart
	last, err := s.meters.LastBySession(ctx, session.ID)
	if err != nil {
		return err
	}
	if last != nil {
		meterStop = last.MeterWh
	}

	now := time.Now().UTC()
	energy, charged, refund := session.Settle(meterStop)
	session.MeterStop = meterStop
	session.EnergyDelivered = energy
	session.AmountCharged = charged
	session.RefundAmount = refund
	session.Status = domain.SessionStatusFailed
	session.StopReason = reason
	session.StoppedAt = &now

	won, err := s.sessions.Settle(ctx, session, settleableStatuses, refund)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	telemetry.EnergyDeliveredTotal.Add(float64(energy))
	telemetry.AmountRefundedTotal.Add(float64(refund))
	telemetry.ActiveChargingSessions.Dec()
	s.publishEvent(subject, session)

	s.log.Warn("session force-settled",
		zap.String("session_id", session.ID),
		zap.String("reason", reason),
		zap.Int64("charged", charged),
		zap.Int64("refund", refund))
	return nil
}

type sessionEvent struct {
	SessionID     string               `json:"session_id"`
	ClientID      string               `json:"client_id"`
	StationID     string               `json:"station_id"`
	ConnectorID   int                  `json:"connector_id"`
	Status        domain.SessionStatus `json:"status"`
	EnergyWh      int64                `json:"energy_wh,omitempty"`
	AmountCharged int64                `json:"amount_charged,omitempty"`
	RefundAmount  int64                `json:"refund_amount,omitempty"`
	At            time.Time            `json:"at"`
}

func (s *Service) publishEvent(subject string, session *domain.ChargingSession) {
	data, err := json.Marshal(sessionEvent{
		SessionID:     session.ID,
		ClientID:      session.ClientID,
		StationID:     session.StationID,
		ConnectorID:   session.ConnectorID,
		Status:        session.Status,
		EnergyWh:      session.EnergyDelivered,
		AmountCharged: session.AmountCharged,
		RefundAmount:  session.RefundAmount,
		At:            time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.mq.Publish(subject, data); err != nil {
		s.log.Warn("event publish failed",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
