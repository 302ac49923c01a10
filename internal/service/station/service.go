package station

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/ports"
	"github.com/evpower/csms/pkg/config"
)

const (
	statusCacheKeyPrefix = "stations:status:"
	statusCacheTTL       = 30 * time.Second
)

// Service is the directory side of the OCPP plane: boot bookkeeping,
// heartbeats and connector state. Station snapshots are cached briefly since
// the REST surface polls them far more often than they change.
type Service struct {
	stations   ports.StationRepository
	connectors ports.ConnectorRepository
	cache      ports.Cache
	cfg        config.OCPPConfig
	log        *zap.Logger
}

func NewService(
	stations ports.StationRepository,
	connectors ports.ConnectorRepository,
	cache ports.Cache,
	cfg config.OCPPConfig,
	log *zap.Logger,
) ports.StationDirectory {
	return &Service{
		stations:   stations,
		connectors: connectors,
		cache:      cache,
		cfg:        cfg,
		log:        log,
	}
}

// HandleBoot accepts boots from provisioned stations only. Unknown station
// ids are rejected rather than auto-registered.
func (s *Service) HandleBoot(ctx context.Context, stationID string, info domain.BootInfo) (bool, error) {
	if !s.cfg.BootAccept {
		s.log.Warn("boot rejected by configuration", zap.String("station_id", stationID))
		return false, nil
	}

	station, err := s.stations.FindByID(ctx, stationID)
	if err != nil {
		return false, err
	}
	if station == nil {
		s.log.Warn("boot from unprovisioned station", zap.String("station_id", stationID))
		return false, nil
	}

	now := time.Now().UTC()
	if err := s.stations.RecordBoot(ctx, stationID, info, now); err != nil {
		return false, err
	}
	s.invalidate(ctx, stationID)

	s.log.Info("station booted",
		zap.String("station_id", stationID),
		zap.String("vendor", info.Vendor),
		zap.String("model", info.Model),
		zap.String("firmware", info.FirmwareVersion))
	return true, nil
}

func (s *Service) Heartbeat(ctx context.Context, stationID string) error {
	return s.stations.UpdateHeartbeat(ctx, stationID, time.Now().UTC())
}

func (s *Service) SetConnectorStatus(ctx context.Context, stationID string, connectorID int, status domain.StationStatus) error {
	var err error
	if connectorID == 0 {
		// connector 0 addresses the station itself per OCPP 1.6
		err = s.stations.UpdateStatus(ctx, stationID, status)
	} else {
		err = s.connectors.UpdateStatus(ctx, stationID, connectorID, status)
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx, stationID)
	return nil
}

func (s *Service) StationStatus(ctx context.Context, stationID string) (*domain.Station, error) {
	key := statusCacheKeyPrefix + stationID
	if cached, err := s.cache.Get(ctx, key); err == nil && cached != "" {
		var station domain.Station
		if err := json.Unmarshal([]byte(cached), &station); err == nil {
			return &station, nil
		}
	}

	station, err := s.stations.FindByID(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if station == nil {
		return nil, domain.NewError(domain.KindNotFound, "station not found")
	}

	if data, err := json.Marshal(station); err == nil {
		if err := s.cache.Set(ctx, key, string(data), statusCacheTTL); err != nil {
			s.log.Debug("station snapshot cache write failed", zap.Error(err))
		}
	}
	return station, nil
}

// MarkOffline flips stations whose heartbeat fell outside the tolerance
// window. Returns how many stations were flipped.
func (s *Service) MarkOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	stale, err := s.stations.FindStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var flipped int64
	for _, station := range stale {
		if err := s.stations.UpdateStatus(ctx, station.ID, domain.StationStatusOffline); err != nil {
			s.log.Error("offline flip failed",
				zap.String("station_id", station.ID),
				zap.Error(err))
			continue
		}
		s.invalidate(ctx, station.ID)
		flipped++
	}
	if flipped > 0 {
		s.log.Info("stations marked offline", zap.Int64("count", flipped))
	}
	return flipped, nil
}

func (s *Service) invalidate(ctx context.Context, stationID string) {
	if err := s.cache.Delete(ctx, statusCacheKeyPrefix+stationID); err != nil {
		s.log.Debug("station snapshot invalidation failed",
			zap.String("station_id", stationID),
			zap.Error(err))
	}
}
