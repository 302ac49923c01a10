package postgres

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/ports"
)

type StationRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStationRepository(db *gorm.DB, log *zap.Logger) ports.StationRepository {
	return &StationRepository{
		db:  db,
		log: log,
	}
}

func (r *StationRepository) Save(ctx context.Context, station *domain.Station) error {
	return r.db.WithContext(ctx).Save(station).Error
}

func (r *StationRepository) FindByID(ctx context.Context, id string) (*domain.Station, error) {
	var station domain.Station
	err := r.db.WithContext(ctx).Preload("Connectors").Preload("Location").First(&station, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &station, nil
}

func (r *StationRepository) UpdateStatus(ctx context.Context, id string, status domain.StationStatus) error {
	return r.db.WithContext(ctx).Model(&domain.Station{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()}).Error
}

func (r *StationRepository) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Station{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_heartbeat_at": at, "updated_at": at}).Error
}

func (r *StationRepository) RecordBoot(ctx context.Context, id string, info domain.BootInfo, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Station{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"vendor":            info.Vendor,
			"model":             info.Model,
			"serial_number":     info.SerialNumber,
			"firmware_version":  info.FirmwareVersion,
			"last_heartbeat_at": at,
			"updated_at":        at,
		}).Error
}

func (r *StationRepository) FindStale(ctx context.Context, cutoff time.Time) ([]domain.Station, error) {
	var stations []domain.Station
	err := r.db.WithContext(ctx).
		Where("status <> ? AND (last_heartbeat_at IS NULL OR last_heartbeat_at < ?)", domain.StationStatusOffline, cutoff).
		Find(&stations).Error
	return stations, err
}

type ConnectorRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewConnectorRepository(db *gorm.DB, log *zap.Logger) ports.ConnectorRepository {
	return &ConnectorRepository{
		db:  db,
		log: log,
	}
}

func (r *ConnectorRepository) Find(ctx context.Context, stationID string, connectorID int) (*domain.Connector, error) {
	var connector domain.Connector
	err := r.db.WithContext(ctx).
		Where("station_id = ? AND connector_id = ?", stationID, connectorID).
		First(&connector).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &connector, nil
}

func (r *ConnectorRepository) UpdateStatus(ctx context.Context, stationID string, connectorID int, status domain.StationStatus) error {
	return r.db.WithContext(ctx).Model(&domain.Connector{}).
		Where("station_id = ? AND connector_id = ?", stationID, connectorID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()}).Error
}
