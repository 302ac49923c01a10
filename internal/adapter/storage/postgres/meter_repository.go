package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/ports"
)

type MeterSampleRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewMeterSampleRepository(db *gorm.DB, log *zap.Logger) ports.MeterSampleRepository {
	return &MeterSampleRepository{
		db:  db,
		log: log,
	}
}

func (r *MeterSampleRepository) Append(ctx context.Context, samples []domain.MeterSample) error {
	if len(samples) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&samples).Error
}

func (r *MeterSampleRepository) LastBySession(ctx context.Context, sessionID string) (*domain.MeterSample, error) {
	var sample domain.MeterSample
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp desc").First(&sample).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sample, nil
}
