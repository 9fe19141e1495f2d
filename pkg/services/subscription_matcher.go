package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/repositories"
)

// SubscriptionMatcher finds the subscriptions a processed minute satisfies.
type SubscriptionMatcher interface {
	Match(ctx context.Context, minuteID int64) ([]*models.Subscription, error)
}

type subscriptionMatcher struct {
	minutes       repositories.MinuteRepository
	subscriptions repositories.SubscriptionRepository
	logger        *zap.Logger
}

// NewSubscriptionMatcher creates a SubscriptionMatcher.
func NewSubscriptionMatcher(minutes repositories.MinuteRepository, subscriptions repositories.SubscriptionRepository, logger *zap.Logger) SubscriptionMatcher {
	return &subscriptionMatcher{
		minutes:       minutes,
		subscriptions: subscriptions,
		logger:        logger.Named("subscription-matcher"),
	}
}

var _ SubscriptionMatcher = (*subscriptionMatcher)(nil)

// Match returns the active subscriptions whose criterion applies to the
// minute: its case, its address or an address within radius, an entity of
// its case, or a saved search its lemmas contain. Facts the minute lacks
// simply match nothing.
func (s *subscriptionMatcher) Match(ctx context.Context, minuteID int64) ([]*models.Subscription, error) {
	facts, err := s.minutes.LoadMatchFacts(ctx, minuteID)
	if err != nil {
		return nil, err
	}

	subs, err := s.subscriptions.Match(ctx, facts)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Matched subscriptions",
		zap.Int64("minute_id", minuteID),
		zap.Bool("has_address", facts.AddressID != nil),
		zap.Int("entities", len(facts.EntityIDs)),
		zap.Int("matches", len(subs)))
	return subs, nil
}
