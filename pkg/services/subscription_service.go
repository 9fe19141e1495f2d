package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/lexicon"
	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/repositories"
)

// SubscriptionService manages users' subscriptions.
type SubscriptionService interface {
	Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	Get(ctx context.Context, id int64) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Subscription, error)
	SetActive(ctx context.Context, id int64, active bool) error
	// Delete archives the subscription's deliveries and removes it.
	Delete(ctx context.Context, id int64) error
}

type subscriptionService struct {
	subscriptions repositories.SubscriptionRepository
	deliveries    repositories.DeliveryRepository
	tokenizer     lexicon.Tokenizer
	tx            TxFunc
	logger        *zap.Logger
}

// NewSubscriptionService creates a SubscriptionService.
func NewSubscriptionService(
	subscriptions repositories.SubscriptionRepository,
	deliveries repositories.DeliveryRepository,
	tokenizer lexicon.Tokenizer,
	tx TxFunc,
	logger *zap.Logger,
) SubscriptionService {
	return &subscriptionService{
		subscriptions: subscriptions,
		deliveries:    deliveries,
		tokenizer:     tokenizer,
		tx:            tx,
		logger:        logger.Named("subscription-service"),
	}
}

var _ SubscriptionService = (*subscriptionService)(nil)

func (s *subscriptionService) Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if sub.Type == models.SubscriptionSearch && sub.SearchQuery != nil {
		query := strings.TrimSpace(*sub.SearchQuery)
		sub.SearchQuery = &query
		lemmas, err := lexicon.Lemmas(ctx, s.tokenizer, query)
		if err != nil {
			return nil, fmt.Errorf("failed to lemmatize search query: %w", err)
		}
		if lemmas == "" {
			return nil, fmt.Errorf("%w: search query %q has no words", apperrors.ErrInvalidSubscription, query)
		}
		sub.SearchLemmas = &lemmas
	}

	if !sub.Validate() {
		return nil, fmt.Errorf("%w: missing criterion for %q subscription", apperrors.ErrInvalidSubscription, sub.Type)
	}
	for _, ct := range sub.CouncilTypes {
		if !ct.IsValid() {
			return nil, fmt.Errorf("%w: unknown council type %q", apperrors.ErrInvalidSubscription, ct)
		}
	}

	created, err := s.subscriptions.Create(ctx, sub)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Created subscription",
		zap.Int64("subscription_id", created.ID),
		zap.Int64("user_id", created.UserID),
		zap.String("type", string(created.Type)))
	return created, nil
}

func (s *subscriptionService) Get(ctx context.Context, id int64) (*models.Subscription, error) {
	return s.subscriptions.Get(ctx, id)
}

func (s *subscriptionService) ListByUser(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	return s.subscriptions.ListByUser(ctx, userID)
}

func (s *subscriptionService) SetActive(ctx context.Context, id int64, active bool) error {
	return s.subscriptions.SetActive(ctx, id, active)
}

func (s *subscriptionService) Delete(ctx context.Context, id int64) error {
	var archived int64
	err := s.tx(ctx, func(ctx context.Context) error {
		if _, err := s.subscriptions.Get(ctx, id); err != nil {
			return err
		}
		n, err := s.deliveries.ArchiveForSubscription(ctx, id)
		if err != nil {
			return err
		}
		archived = n
		return s.subscriptions.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Deleted subscription",
		zap.Int64("subscription_id", id),
		zap.Int64("archived_deliveries", archived))
	return nil
}
