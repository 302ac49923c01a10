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

var inFlightStatuses = []domain.SessionStatus{
	domain.SessionStatusPending,
	domain.SessionStatusStarting,
	domain.SessionStatusActive,
	domain.SessionStatusStopping,
}

type SessionRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewSessionRepository(db *gorm.DB, log *zap.Logger) ports.SessionRepository {
	return &SessionRepository{
		db:  db,
		log: log,
	}
}

func (r *SessionRepository) Save(ctx context.Context, s *domain.ChargingSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *SessionRepository) Update(ctx context.Context, s *domain.ChargingSession) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*domain.ChargingSession, error) {
	var s domain.ChargingSession
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) FindByIdTag(ctx context.Context, idTag string) (*domain.ChargingSession, error) {
	var s domain.ChargingSession
	err := r.db.WithContext(ctx).Where("id_tag = ?", idTag).Order("created_at desc").First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) FindByOcppTxID(ctx context.Context, stationID string, ocppTxID int) (*domain.ChargingSession, error) {
	var s domain.ChargingSession
	err := r.db.WithContext(ctx).
		Where("station_id = ? AND ocpp_tx_id = ?", stationID, ocppTxID).
		Order("created_at desc").First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) FindInFlightByClient(ctx context.Context, clientID string) (*domain.ChargingSession, error) {
	var s domain.ChargingSession
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND status IN ?", clientID, inFlightStatuses).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) FindInFlightByConnector(ctx context.Context, stationID string, connectorID int) (*domain.ChargingSession, error) {
	var s domain.ChargingSession
	err := r.db.WithContext(ctx).
		Where("station_id = ? AND connector_id = ? AND status IN ?", stationID, connectorID, inFlightStatuses).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Transition flips status only when the row is still in one of the expected
// states. RowsAffected answers whether this caller won the transition.
func (r *SessionRepository) Transition(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.ChargingSession{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Settle writes the final session fields and credits the refund inside one
// database transaction, guarded on the current status. When a concurrent stop
// already settled the row, nothing happens and (false, nil) is returned, so
// the refund can never be paid twice.
func (r *SessionRepository) Settle(ctx context.Context, s *domain.ChargingSession, from []domain.SessionStatus, refund int64) (bool, error) {
	settled := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.ChargingSession{}).
			Where("id = ? AND status IN ?", s.ID, from).
			Updates(map[string]interface{}{
				"status":           s.Status,
				"meter_stop":       s.MeterStop,
				"energy_delivered": s.EnergyDelivered,
				"amount_charged":   s.AmountCharged,
				"refund_amount":    s.RefundAmount,
				"stop_reason":      s.StopReason,
				"stopped_at":       s.StoppedAt,
				"updated_at":       time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		settled = true
		if refund > 0 {
			credit := tx.Exec(
				"UPDATE clients SET balance = balance + ?, updated_at = NOW() WHERE id = ?",
				refund, s.ClientID,
			)
			if credit.Error != nil {
				return credit.Error
			}
		}
		return nil
	})
	return settled, err
}

func (r *SessionRepository) FindStartingBefore(ctx context.Context, cutoff time.Time) ([]domain.ChargingSession, error) {
	var sessions []domain.ChargingSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ? AND ocpp_tx_id IS NULL", domain.SessionStatusStarting, cutoff).
		Find(&sessions).Error
	return sessions, err
}

func (r *SessionRepository) FindActiveBefore(ctx context.Context, cutoff time.Time) ([]domain.ChargingSession, error) {
	var sessions []domain.ChargingSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.SessionStatusActive, cutoff).
		Find(&sessions).Error
	return sessions, err
}
