package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/ports"
)

type ClientRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewClientRepository(db *gorm.DB, log *zap.Logger) ports.ClientRepository {
	return &ClientRepository{
		db:  db,
		log: log,
	}
}

func (r *ClientRepository) Save(ctx context.Context, client *domain.Client) error {
	return r.db.WithContext(ctx).Save(client).Error
}

func (r *ClientRepository) FindByID(ctx context.Context, id string) (*domain.Client, error) {
	var client domain.Client
	err := r.db.WithContext(ctx).First(&client, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &client, nil
}

// Reserve debits the balance only when it covers the amount. The condition
// lives in the UPDATE itself so concurrent reservations cannot overdraw.
func (r *ClientRepository) Reserve(ctx context.Context, clientID string, amount int64) error {
	if amount <= 0 {
		return domain.Errorf(domain.KindInvalidArgument, "reserve amount must be positive, got %d", amount)
	}
	result := r.db.WithContext(ctx).Exec(
		"UPDATE clients SET balance = balance - ?, updated_at = NOW() WHERE id = ? AND balance >= ?",
		amount, clientID, amount,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.Errorf(domain.KindInsufficientFunds, "balance below %d for client %s", amount, clientID)
	}
	return nil
}

func (r *ClientRepository) Credit(ctx context.Context, clientID string, amount int64) error {
	if amount <= 0 {
		return domain.Errorf(domain.KindInvalidArgument, "credit amount must be positive, got %d", amount)
	}
	result := r.db.WithContext(ctx).Exec(
		"UPDATE clients SET balance = balance + ?, updated_at = NOW() WHERE id = ?",
		amount, clientID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.Errorf(domain.KindNotFound, "client %s not found", clientID)
	}
	return nil
}
