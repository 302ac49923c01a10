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

type TariffRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewTariffRepository(db *gorm.DB, log *zap.Logger) ports.TariffRepository {
	return &TariffRepository{
		db:  db,
		log: log,
	}
}

// FindEffective picks the highest-priority active rule bound to the station or
// its location whose validity window covers now. Validity bounds are nullable.
func (r *TariffRepository) FindEffective(ctx context.Context, stationID, locationID string, now time.Time) (*domain.TariffRule, error) {
	var rule domain.TariffRule
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("(station_id = ? OR (location_id <> '' AND location_id = ?))", stationID, locationID).
		Where("(valid_from IS NULL OR valid_from <= ?)", now).
		Where("(valid_until IS NULL OR valid_until >= ?)", now).
		Order("priority desc, created_at desc").
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}
