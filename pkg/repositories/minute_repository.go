package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/database"
	"github.com/planwatch/planwatch-engine/pkg/models"
)

// MinuteRepository stores minutes and the data derived from them.
type MinuteRepository interface {
	// Upsert creates the minute for (meeting, case) or overwrites its text
	// and status. Entity mentions are left alone.
	Upsert(ctx context.Context, minute *models.Minute) (*models.Minute, error)
	Get(ctx context.Context, id int64) (*models.Minute, error)
	SetLemmas(ctx context.Context, minuteID int64, lemmas string) error
	// AddMentions merges mentions into the minute's existing mentions.
	AddMentions(ctx context.Context, minuteID int64, mentions []models.EntityMention) error
	ListMentions(ctx context.Context, minuteID int64) ([]models.EntityMention, error)
	UpsertResponse(ctx context.Context, response *models.Response) error
	UpsertAttachment(ctx context.Context, attachment *models.Attachment) error
	// LoadMatchFacts collects what the subscription matcher needs to know
	// about a minute.
	LoadMatchFacts(ctx context.Context, minuteID int64) (*MatchFacts, error)
	// ListUnindexed returns minutes with text but no lemmas, oldest first.
	ListUnindexed(ctx context.Context, limit int) ([]int64, error)
	// ListProcessedSince returns minutes stored or updated at or after since,
	// oldest first.
	ListProcessedSince(ctx context.Context, since time.Time, limit int) ([]int64, error)
}

type minuteRepository struct{}

// NewMinuteRepository creates a new minute repository.
func NewMinuteRepository() MinuteRepository {
	return &minuteRepository{}
}

var _ MinuteRepository = (*minuteRepository)(nil)

func (r *minuteRepository) Upsert(ctx context.Context, minute *models.Minute) (*models.Minute, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	out := *minute
	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO minutes (case_id, meeting_id, serial, headline, inquiry, remarks, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (meeting_id, case_id) DO UPDATE
		SET serial = EXCLUDED.serial,
		    headline = EXCLUDED.headline,
		    inquiry = EXCLUDED.inquiry,
		    remarks = EXCLUDED.remarks,
		    status = EXCLUDED.status,
		    processed_at = now()
		RETURNING id, lemmas`,
		minute.CaseID, minute.MeetingID, minute.Serial, minute.Headline,
		minute.Inquiry, minute.Remarks, fromStatus(minute.Status),
	).Scan(&out.ID, &out.Lemmas)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert minute %s: %w", minute.Serial, err)
	}
	return &out, nil
}

func (r *minuteRepository) Get(ctx context.Context, id int64) (*models.Minute, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var m models.Minute
	var status *string
	err := scope.Conn.QueryRow(ctx, `
		SELECT id, case_id, meeting_id, serial, headline, inquiry, remarks, status, lemmas
		FROM minutes
		WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.CaseID, &m.MeetingID, &m.Serial, &m.Headline, &m.Inquiry, &m.Remarks, &status, &m.Lemmas)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get minute: %w", err)
	}
	m.Status = toStatus(status)
	return &m, nil
}

func (r *minuteRepository) SetLemmas(ctx context.Context, minuteID int64, lemmas string) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if _, err := scope.Conn.Exec(ctx, `UPDATE minutes SET lemmas = $2 WHERE id = $1`, minuteID, lemmas); err != nil {
		return fmt.Errorf("failed to set minute lemmas: %w", err)
	}
	return nil
}

func (r *minuteRepository) AddMentions(ctx context.Context, minuteID int64, mentions []models.EntityMention) error {
	if len(mentions) == 0 {
		return nil
	}

	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		UPDATE minutes
		SET entity_mentions = (
			SELECT COALESCE(jsonb_agg(DISTINCT m), '[]'::jsonb)
			FROM jsonb_array_elements(entity_mentions || $2::jsonb) AS m
		)
		WHERE id = $1`,
		minuteID, mentions,
	)
	if err != nil {
		return fmt.Errorf("failed to add entity mentions: %w", err)
	}
	return nil
}

func (r *minuteRepository) ListMentions(ctx context.Context, minuteID int64) ([]models.EntityMention, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var mentions []models.EntityMention
	err := scope.Conn.QueryRow(ctx, `SELECT entity_mentions FROM minutes WHERE id = $1`, minuteID).Scan(&mentions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to list entity mentions: %w", err)
	}
	return mentions, nil
}

func (r *minuteRepository) UpsertResponse(ctx context.Context, response *models.Response) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO responses (minute_id, headline, contents)
		VALUES ($1, $2, $3)
		ON CONFLICT (minute_id, headline) DO UPDATE SET contents = EXCLUDED.contents`,
		response.MinuteID, response.Headline, response.Contents,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert response: %w", err)
	}
	return nil
}

func (r *minuteRepository) UpsertAttachment(ctx context.Context, attachment *models.Attachment) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	var length *int64
	if attachment.Length > 0 {
		length = &attachment.Length
	}
	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO attachments (minute_id, url, type, label, length)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (minute_id, url) DO UPDATE
		SET type = EXCLUDED.type,
		    label = EXCLUDED.label,
		    length = COALESCE(EXCLUDED.length, attachments.length)`,
		attachment.MinuteID, attachment.URL, attachment.Type, attachment.Label, length,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert attachment: %w", err)
	}
	return nil
}

func (r *minuteRepository) LoadMatchFacts(ctx context.Context, minuteID int64) (*MatchFacts, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var f MatchFacts
	var councilType string
	err := scope.Conn.QueryRow(ctx, `
		SELECT m.id, m.case_id, co.council_type, m.lemmas <> '', c.address_id, a.lat, a.lon
		FROM minutes m
		JOIN cases c ON c.id = m.case_id
		JOIN meetings mt ON mt.id = m.meeting_id
		JOIN councils co ON co.id = mt.council_id
		LEFT JOIN addresses a ON a.id = c.address_id
		WHERE m.id = $1`,
		minuteID,
	).Scan(&f.MinuteID, &f.CaseID, &councilType, &f.HasLemmas, &f.AddressID, &f.Lat, &f.Lon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load match facts: %w", err)
	}
	f.CouncilType = models.CouncilType(councilType)

	rows, err := scope.Conn.Query(ctx, `SELECT entity_id FROM case_entities WHERE case_id = $1 ORDER BY entity_id`, f.CaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case entities: %w", err)
	}
	f.EntityIDs, err = pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan case entities: %w", err)
	}
	return &f, nil
}

func (r *minuteRepository) ListUnindexed(ctx context.Context, limit int) ([]int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id FROM minutes
		WHERE lemmas = ''
		  AND (headline <> '' OR inquiry <> '' OR remarks <> '')
		ORDER BY id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unindexed minutes: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan unindexed minutes: %w", err)
	}
	return ids, nil
}

func (r *minuteRepository) ListProcessedSince(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id FROM minutes
		WHERE processed_at >= $1
		ORDER BY processed_at, id
		LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed minutes: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan processed minutes: %w", err)
	}
	return ids, nil
}
