package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/database"
	"github.com/planwatch/planwatch-engine/pkg/models"
)

// MatchFacts is what is known about a minute when matching subscriptions.
// Nil or empty fields add no predicate.
type MatchFacts struct {
	MinuteID    int64
	CaseID      int64
	CouncilType models.CouncilType
	HasLemmas   bool
	AddressID   *int64
	Lat         *float64
	Lon         *float64
	EntityIDs   []int64
}

// SubscriptionRepository stores subscriptions and matches them against minutes.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	Get(ctx context.Context, id int64) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Subscription, error)
	SetActive(ctx context.Context, id int64, active bool) error
	// Delete removes the subscription row. Deliveries must be archived first.
	Delete(ctx context.Context, id int64) error
	// Match returns the active subscriptions that apply to the minute
	// described by facts.
	Match(ctx context.Context, facts *MatchFacts) ([]*models.Subscription, error)
}

type subscriptionRepository struct{}

// NewSubscriptionRepository creates a new subscription repository.
func NewSubscriptionRepository() SubscriptionRepository {
	return &subscriptionRepository{}
}

var _ SubscriptionRepository = (*subscriptionRepository)(nil)

const subscriptionColumns = `s.id, s.user_id, s.type, s.case_id, s.address_id, s.radius, s.entity_id,
	s.search_query, s.search_lemmas, s.council_types, s.active, s.immediate, s.created_at`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	var subType string
	var councilTypes []string
	err := row.Scan(&s.ID, &s.UserID, &subType, &s.CaseID, &s.AddressID, &s.Radius, &s.EntityID,
		&s.SearchQuery, &s.SearchLemmas, &councilTypes, &s.Active, &s.Immediate, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Type = models.SubscriptionType(subType)
	if councilTypes != nil {
		s.CouncilTypes = make([]models.CouncilType, len(councilTypes))
		for i, ct := range councilTypes {
			s.CouncilTypes[i] = models.CouncilType(ct)
		}
	}
	return &s, nil
}

func collectSubscriptions(rows pgx.Rows) ([]*models.Subscription, error) {
	defer rows.Close()

	var out []*models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return out, nil
}

// councilTypesArg stores an empty restriction as NULL, which matches every council.
func councilTypesArg(types []models.CouncilType) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	s, err := scanSubscription(scope.Conn.QueryRow(ctx, `
		INSERT INTO subscriptions AS s (user_id, type, case_id, address_id, radius, entity_id,
			search_query, search_lemmas, council_types, active, immediate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+subscriptionColumns,
		sub.UserID, string(sub.Type), sub.CaseID, sub.AddressID, sub.Radius, sub.EntityID,
		sub.SearchQuery, sub.SearchLemmas, councilTypesArg(sub.CouncilTypes), sub.Active, sub.Immediate,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return s, nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id int64) (*models.Subscription, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	s, err := scanSubscription(scope.Conn.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions s WHERE s.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

func (r *subscriptionRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions s
		WHERE s.user_id = $1
		ORDER BY s.created_at, s.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func (r *subscriptionRepository) SetActive(ctx context.Context, id int64, active bool) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `UPDATE subscriptions SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, id int64) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// BuildMatchFilter composes the WHERE clause selecting subscriptions that
// apply to a minute: one OR'ed predicate per fact the minute has, and'ed
// with the active flag and the council type restriction. Returns an empty
// clause when the minute has no facts to match on.
func BuildMatchFilter(f *MatchFacts) (string, []any) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var clauses []string
	if f.HasLemmas {
		clauses = append(clauses, `(s.type = 'search' AND s.search_lemmas <> '' AND EXISTS (
			SELECT 1 FROM minutes fm
			WHERE fm.id = `+arg(f.MinuteID)+`
			  AND fm.search_vector @@ plainto_tsquery('simple', s.search_lemmas)))`)
	}
	if f.CaseID != 0 {
		clauses = append(clauses, `(s.type = 'case' AND s.case_id = `+arg(f.CaseID)+`)`)
	}
	if f.AddressID != nil {
		clauses = append(clauses, `(s.type = 'address' AND s.address_id = `+arg(*f.AddressID)+`)`)
	}
	if f.Lat != nil && f.Lon != nil {
		clauses = append(clauses, `(s.type = 'radius' AND EXISTS (
			SELECT 1 FROM addresses sa
			WHERE sa.id = s.address_id
			  AND distance_m(sa.lat, sa.lon, `+arg(*f.Lat)+`, `+arg(*f.Lon)+`) < s.radius))`)
	}
	if len(f.EntityIDs) > 0 {
		clauses = append(clauses, `(s.type = 'entity' AND s.entity_id = ANY(`+arg(f.EntityIDs)+`))`)
	}

	if len(clauses) == 0 {
		return "", nil
	}

	where := `s.active
		AND (s.council_types IS NULL OR ` + arg(string(f.CouncilType)) + ` = ANY(s.council_types))
		AND (` + strings.Join(clauses, "\n\t\tOR ") + `)`
	return where, args
}

func (r *subscriptionRepository) Match(ctx context.Context, facts *MatchFacts) ([]*models.Subscription, error) {
	where, args := BuildMatchFilter(facts)
	if where == "" {
		return nil, nil
	}

	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id AND u.active
		WHERE `+where+`
		ORDER BY s.id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to match subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}
