package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evpower/csms/internal/observability/telemetry"
	"github.com/evpower/csms/internal/ports"
	"github.com/evpower/csms/pkg/config"
)

const leaderLockKey = "reconciler:leader"

// Service is the background repair loop: it expires sessions whose station
// never confirmed a transaction, force-stops sessions running past the hard
// ceiling, lapses unpaid invoices and flips silent stations offline. Only one
// process runs the sweeps at a time; the others idle behind the leader lock.
type Service struct {
	sessions  ports.SessionRepository
	topups    ports.TopUpRepository
	charging  ports.ChargingService
	directory ports.StationDirectory
	locker    ports.Locker
	cfg       config.ReconcilerConfig
	ocppCfg   config.OCPPConfig
	token     string
	log       *zap.Logger
}

func NewService(
	sessions ports.SessionRepository,
	topups ports.TopUpRepository,
	charging ports.ChargingService,
	directory ports.StationDirectory,
	locker ports.Locker,
	cfg config.ReconcilerConfig,
	ocppCfg config.OCPPConfig,
	log *zap.Logger,
) *Service {
	return &Service{
		sessions:  sessions,
		topups:    topups,
		charging:  charging,
		directory: directory,
		locker:    locker,
		cfg:       cfg,
		ocppCfg:   ocppCfg,
		token:     uuid.New().String(),
		log:       log,
	}
}

// Run blocks until ctx is cancelled. Each tick it tries to take (or keep) the
// leader lock; the holder runs every sweep that is due.
func (s *Service) Run(ctx context.Context) {
	session := s.sessionInterval()
	invoice := s.invoiceInterval()

	sessionTicker := time.NewTicker(session)
	invoiceTicker := time.NewTicker(invoice)
	defer sessionTicker.Stop()
	defer invoiceTicker.Stop()

	s.log.Info("reconciler started",
		zap.Duration("session_interval", session),
		zap.Duration("invoice_interval", invoice))

	for {
		select {
		case <-ctx.Done():
			if err := s.locker.Release(context.Background(), leaderLockKey, s.token); err != nil {
				s.log.Debug("leader lock release failed", zap.Error(err))
			}
			s.log.Info("reconciler stopped")
			return
		case <-sessionTicker.C:
			if !s.lead(ctx, session) {
				continue
			}
			s.sweep(ctx, "hung_sessions", s.sweepHungSessions)
			s.sweep(ctx, "stale_stations", s.sweepStaleStations)
		case <-invoiceTicker.C:
			if !s.lead(ctx, invoice) {
				continue
			}
			s.sweep(ctx, "pending_invoices", s.sweepPendingInvoices)
		}
	}
}

// lead acquires or renews the leader lock. The TTL is twice the tick so a
// crashed leader is replaced after missing one tick.
func (s *Service) lead(ctx context.Context, interval time.Duration) bool {
	ttl := 2 * interval
	renewed, err := s.locker.Renew(ctx, leaderLockKey, s.token, ttl)
	if err != nil {
		s.log.Warn("leader lock renew failed", zap.Error(err))
		return false
	}
	if renewed {
		return true
	}
	acquired, err := s.locker.Acquire(ctx, leaderLockKey, s.token, ttl)
	if err != nil {
		s.log.Warn("leader lock acquire failed", zap.Error(err))
		return false
	}
	if acquired {
		s.log.Info("reconciler leadership acquired")
	}
	return acquired
}

func (s *Service) sweep(ctx context.Context, name string, fn func(ctx context.Context) error) {
	deadline := s.cfg.SweepDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	sweepCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := fn(sweepCtx); err != nil {
		telemetry.ReconcilerSweeps.WithLabelValues(name, "error").Inc()
		s.log.Error("sweep failed", zap.String("sweep", name), zap.Error(err))
		return
	}
	telemetry.ReconcilerSweeps.WithLabelValues(name, "ok").Inc()
}

// sweepHungSessions handles the two stuck shapes a charging session can take.
// A starting session with no confirmed transaction past the grace period is
// expired with a full refund. An active session running past the hard ceiling
// is force-settled from its last meter sample.
func (s *Service) sweepHungSessions(ctx context.Context) error {
	now := time.Now().UTC()

	noTx, err := s.sessions.FindStartingBefore(ctx, now.Add(-s.cfg.HungSessionNoTxGrace))
	if err != nil {
		return err
	}
	for _, session := range noTx {
		if err := s.charging.ExpireSession(ctx, session.ID); err != nil {
			s.log.Error("session expiry failed",
				zap.String("session_id", session.ID),
				zap.Error(err))
			continue
		}
		s.log.Info("hung session expired",
			zap.String("session_id", session.ID),
			zap.String("station_id", session.StationID))
	}

	overrun, err := s.sessions.FindActiveBefore(ctx, now.Add(-s.cfg.HungSessionMaxActive))
	if err != nil {
		return err
	}
	for _, session := range overrun {
		if err := s.charging.ForceStopSession(ctx, session.ID); err != nil {
			s.log.Error("session force stop failed",
				zap.String("session_id", session.ID),
				zap.Error(err))
			continue
		}
		s.log.Info("overrunning session force-stopped",
			zap.String("session_id", session.ID),
			zap.String("station_id", session.StationID))
	}
	return nil
}

func (s *Service) sweepPendingInvoices(ctx context.Context) error {
	expired, err := s.topups.ExpirePending(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("pending top-ups expired", zap.Int64("count", expired))
	}
	return nil
}

// sweepStaleStations uses the same tolerance the OCPP read loop allows a
// socket before giving up on it.
func (s *Service) sweepStaleStations(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-(2*s.ocppCfg.HeartbeatIntervalDuration() + 30*time.Second))
	_, err := s.directory.MarkOffline(ctx, cutoff)
	return err
}

func (s *Service) sessionInterval() time.Duration {
	if s.cfg.HungSessionCheckInterval <= 0 {
		return time.Minute
	}
	return s.cfg.HungSessionCheckInterval
}

func (s *Service) invoiceInterval() time.Duration {
	if s.cfg.InvoiceCheckInterval <= 0 {
		return time.Minute
	}
	return s.cfg.InvoiceCheckInterval
}
