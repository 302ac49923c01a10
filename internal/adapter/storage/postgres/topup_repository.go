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

type TopUpRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewTopUpRepository(db *gorm.DB, log *zap.Logger) ports.TopUpRepository {
	return &TopUpRepository{
		db:  db,
		log: log,
	}
}

func (r *TopUpRepository) Save(ctx context.Context, t *domain.TopUp) error {
	return r.db.WithContext(ctx).Save(t).Error
}

func (r *TopUpRepository) FindByID(ctx context.Context, id string) (*domain.TopUp, error) {
	var t domain.TopUp
	err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TopUpRepository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*domain.TopUp, error) {
	var t domain.TopUp
	err := r.db.WithContext(ctx).Where("provider_order_id = ?", providerOrderID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ApproveAndCredit flips the top-up to approved and credits the balance in one
// transaction. The status guard excludes only approved, so a webhook arriving
// after the expiry sweep still credits. Approval is monotonic and wins.
func (r *TopUpRepository) ApproveAndCredit(ctx context.Context, providerOrderID string, paidAmount int64, at time.Time) (bool, error) {
	credited := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t domain.TopUp
		if err := tx.Where("provider_order_id = ?", providerOrderID).First(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.Errorf(domain.KindNotFound, "top-up for order %s not found", providerOrderID)
			}
			return err
		}
		result := tx.Model(&domain.TopUp{}).
			Where("provider_order_id = ? AND status <> ?", providerOrderID, domain.TopUpStatusApproved).
			Updates(map[string]interface{}{
				"status":      domain.TopUpStatusApproved,
				"amount_paid": paidAmount,
				"paid_at":     at,
				"updated_at":  at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil // already approved, redelivery
		}
		credited = true
		return tx.Exec(
			"UPDATE clients SET balance = balance + ?, updated_at = NOW() WHERE id = ?",
			paidAmount, t.ClientID,
		).Error
	})
	return credited, err
}

func (r *TopUpRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.TopUp{}).
		Where("status = ? AND expires_at < ?", domain.TopUpStatusPending, now).
		Updates(map[string]interface{}{"status": domain.TopUpStatusExpired, "updated_at": now})
	return result.RowsAffected, result.Error
}
