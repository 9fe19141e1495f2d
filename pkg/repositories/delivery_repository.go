package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/database"
	"github.com/planwatch/planwatch-engine/pkg/models"
)

// DeliveryRepository stores notification deliveries.
type DeliveryRepository interface {
	// Create records that subscription matched minute. Returns false when the
	// delivery already existed.
	Create(ctx context.Context, subscriptionID, minuteID int64) (bool, error)
	Get(ctx context.Context, id int64) (*models.Delivery, error)
	// ListPending returns unsent deliveries of active subscriptions in the
	// given batching mode, ordered by user, meeting, minute and subscription.
	// Archived deliveries have no subscription and never appear.
	ListPending(ctx context.Context, immediate bool) ([]*models.PendingDelivery, error)
	// LockUnsent locks the deliveries among ids that are still unsent and
	// returns their ids. Must run inside a transaction.
	LockUnsent(ctx context.Context, ids []int64) ([]int64, error)
	// MarkSent stamps unsent deliveries among ids with the transport confirmation.
	MarkSent(ctx context.Context, ids []int64, confirmation string) (int64, error)
	// ArchiveForSubscription detaches every delivery of a subscription,
	// keeping the subscription and user ids for audit.
	ArchiveForSubscription(ctx context.Context, subscriptionID int64) (int64, error)
}

type deliveryRepository struct{}

// NewDeliveryRepository creates a new delivery repository.
func NewDeliveryRepository() DeliveryRepository {
	return &deliveryRepository{}
}

var _ DeliveryRepository = (*deliveryRepository)(nil)

func (r *deliveryRepository) Create(ctx context.Context, subscriptionID, minuteID int64) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		INSERT INTO deliveries (subscription_id, minute_id)
		VALUES ($1, $2)
		ON CONFLICT (subscription_id, minute_id) DO NOTHING`,
		subscriptionID, minuteID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *deliveryRepository) Get(ctx context.Context, id int64) (*models.Delivery, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var d models.Delivery
	err := scope.Conn.QueryRow(ctx, `
		SELECT id, subscription_id, minute_id, created_at, sent_at, mail_confirmation,
		       deleted_subscription_id, deleted_user_id
		FROM deliveries
		WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.SubscriptionID, &d.MinuteID, &d.CreatedAt, &d.SentAt, &d.MailConfirmation,
		&d.DeletedSubscriptionID, &d.DeletedUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return &d, nil
}

func (r *deliveryRepository) ListPending(ctx context.Context, immediate bool) ([]*models.PendingDelivery, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT d.id, u.id, u.email, s.id, s.type,
		       CASE s.type
		           WHEN 'case' THEN sc.serial
		           WHEN 'address' THEN concat_ws(' ', a.street, a.number::text || a.letter)
		           WHEN 'radius' THEN s.radius || ' m ' || concat_ws(' ', a.street, a.number::text || a.letter)
		           WHEN 'entity' THEN e.name
		           WHEN 'search' THEN s.search_query
		       END,
		       mt.id, mt.name, mt.start, co.name,
		       m.id, m.serial, c.serial, m.headline, m.status
		FROM deliveries d
		JOIN subscriptions s ON s.id = d.subscription_id
		JOIN users u ON u.id = s.user_id
		JOIN minutes m ON m.id = d.minute_id
		JOIN cases c ON c.id = m.case_id
		JOIN meetings mt ON mt.id = m.meeting_id
		JOIN councils co ON co.id = mt.council_id
		LEFT JOIN cases sc ON sc.id = s.case_id
		LEFT JOIN addresses a ON a.id = s.address_id
		LEFT JOIN entities e ON e.id = s.entity_id
		WHERE d.sent_at IS NULL
		  AND s.active
		  AND u.active
		  AND s.immediate = $1
		ORDER BY u.id, mt.start, mt.id, m.id, s.id`,
		immediate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deliveries: %w", err)
	}
	defer rows.Close()

	var out []*models.PendingDelivery
	for rows.Next() {
		var p models.PendingDelivery
		var subType string
		var on *string
		var status *string
		err := rows.Scan(&p.DeliveryID, &p.UserID, &p.UserEmail, &p.SubscriptionID, &subType, &on,
			&p.MeetingID, &p.MeetingName, &p.MeetingStart, &p.CouncilName,
			&p.MinuteID, &p.MinuteSerial, &p.CaseSerial, &p.Headline, &status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending delivery: %w", err)
		}
		p.Subscription = models.SubscriptionType(subType)
		if on != nil {
			p.SubscriptionOn = *on
		}
		p.Status = toStatus(status)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending deliveries: %w", err)
	}
	return out, nil
}

func (r *deliveryRepository) LockUnsent(ctx context.Context, ids []int64) ([]int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id FROM deliveries
		WHERE id = ANY($1) AND sent_at IS NULL
		ORDER BY id
		FOR UPDATE SKIP LOCKED`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock deliveries: %w", err)
	}
	locked, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan locked deliveries: %w", err)
	}
	return locked, nil
}

func (r *deliveryRepository) MarkSent(ctx context.Context, ids []int64, confirmation string) (int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE deliveries
		SET sent_at = now(), mail_confirmation = $2
		WHERE id = ANY($1) AND sent_at IS NULL`,
		ids, confirmation,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark deliveries sent: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *deliveryRepository) ArchiveForSubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE deliveries d
		SET deleted_subscription_id = s.id,
		    deleted_user_id = s.user_id,
		    subscription_id = NULL
		FROM subscriptions s
		WHERE s.id = d.subscription_id
		  AND s.id = $1`,
		subscriptionID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to archive deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}
