package payment

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
)

// Service handles balance top-ups: invoice creation against the provider and
// webhook-driven crediting. Crediting is exactly-once regardless of how many
// times the provider redelivers the webhook.
type Service struct {
	topups   ports.TopUpRepository
	clients  ports.ClientRepository
	provider ports.PaymentProvider
	mq       queue.MessageQueue
	log      *zap.Logger
}

func NewService(
	topups ports.TopUpRepository,
	clients ports.ClientRepository,
	provider ports.PaymentProvider,
	mq queue.MessageQueue,
	log *zap.Logger,
) ports.PaymentService {
	return &Service{
		topups:   topups,
		clients:  clients,
		provider: provider,
		mq:       mq,
		log:      log,
	}
}

func (s *Service) CreateTopUp(ctx context.Context, clientID string, amount int64) (*domain.TopUp, error) {
	if amount <= 0 {
		return nil, domain.NewError(domain.KindInvalidArgument, "amount must be positive")
	}

	client, err := s.clients.FindByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.NewError(domain.KindNotFound, "client not found")
	}
	if client.Status == domain.ClientStatusBlocked {
		return nil, domain.NewError(domain.KindForbidden, "client is blocked")
	}

	invoice, err := s.provider.CreateInvoice(ctx, clientID, amount)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	topup := &domain.TopUp{
		ID:              uuid.New().String(),
		ClientID:        clientID,
		Provider:        s.provider.Name(),
		ProviderOrderID: invoice.ProviderOrderID,
		AmountRequested: amount,
		Currency:        client.Currency,
		QRPayload:       invoice.QRPayload,
		Status:          domain.TopUpStatusPending,
		ExpiresAt:       invoice.ExpiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.topups.Save(ctx, topup); err != nil {
		return nil, err
	}

	s.log.Info("top-up created",
		zap.String("topup_id", topup.ID),
		zap.String("client_id", clientID),
		zap.String("provider_order_id", invoice.ProviderOrderID),
		zap.Int64("amount", amount))
	return topup, nil
}

// HandleWebhook verifies, parses and applies one provider notification.
// Approvals credit exactly once; anything else is recorded and acknowledged
// so the provider stops retrying.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	if err := s.provider.VerifyWebhook(payload, signature); err != nil {
		return "", err
	}
	event, err := s.provider.ParseWebhook(payload)
	if err != nil {
		return "", err
	}

	switch event.Status {
	case domain.TopUpStatusApproved:
		credited, err := s.topups.ApproveAndCredit(ctx, event.ProviderOrderID, event.PaidAmount, time.Now().UTC())
		if err != nil {
			return "", err
		}
		if credited {
			telemetry.TopUpsApprovedTotal.WithLabelValues(s.provider.Name()).Inc()
			clientID := ""
			if topup, terr := s.topups.FindByProviderOrderID(ctx, event.ProviderOrderID); terr == nil && topup != nil {
				clientID = topup.ClientID
			}
			s.publishApproved(event, clientID)
			s.log.Info("top-up approved",
				zap.String("provider_order_id", event.ProviderOrderID),
				zap.Int64("paid_amount", event.PaidAmount))
		} else {
			s.log.Info("duplicate approval webhook ignored",
				zap.String("provider_order_id", event.ProviderOrderID))
		}
	case domain.TopUpStatusPending:
		s.log.Debug("webhook reports invoice still pending",
			zap.String("provider_order_id", event.ProviderOrderID))
	default:
		s.log.Warn("webhook reports failed invoice",
			zap.String("provider_order_id", event.ProviderOrderID),
			zap.String("status", string(event.Status)))
	}

	return s.provider.AckBody(), nil
}

func (s *Service) GetBalance(ctx context.Context, clientID string) (*domain.Client, error) {
	client, err := s.clients.FindByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.NewError(domain.KindNotFound, "client not found")
	}
	return client, nil
}

type topUpApprovedEvent struct {
	ProviderOrderID string    `json:"provider_order_id"`
	ClientID        string    `json:"client_id"`
	PaidAmount      int64     `json:"paid_amount"`
	Provider        string    `json:"provider"`
	At              time.Time `json:"at"`
}

func (s *Service) publishApproved(event *domain.WebhookEvent, clientID string) {
	data, err := json.Marshal(topUpApprovedEvent{
		ProviderOrderID: event.ProviderOrderID,
		ClientID:        clientID,
		PaidAmount:      event.PaidAmount,
		Provider:        s.provider.Name(),
		At:              time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.mq.Publish(queue.SubjectTopUpApproved, data); err != nil {
		s.log.Warn("top-up event publish failed", zap.Error(err))
	}
}
