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

// CouncilRepository stores municipalities, councils and their meetings.
type CouncilRepository interface {
	UpsertMunicipality(ctx context.Context, slug, name string) (*models.Municipality, error)
	UpsertCouncil(ctx context.Context, municipalityID int64, councilType models.CouncilType, name string) (*models.Council, error)
	// GetCouncil finds the council of a type within a municipality.
	GetCouncil(ctx context.Context, municipalitySlug string, councilType models.CouncilType) (*models.Council, error)
	// UpsertMeeting creates the meeting or refreshes its name and start,
	// keyed by the meeting's URL.
	UpsertMeeting(ctx context.Context, meeting *models.Meeting) (*models.Meeting, error)
	GetMeeting(ctx context.Context, id int64) (*models.Meeting, error)
}

type councilRepository struct{}

// NewCouncilRepository creates a new council repository.
func NewCouncilRepository() CouncilRepository {
	return &councilRepository{}
}

var _ CouncilRepository = (*councilRepository)(nil)

func (r *councilRepository) UpsertMunicipality(ctx context.Context, slug, name string) (*models.Municipality, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	m := &models.Municipality{Slug: slug, Name: name}
	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO municipalities (slug, name)
		VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		slug, name,
	).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert municipality %s: %w", slug, err)
	}
	return m, nil
}

func (r *councilRepository) UpsertCouncil(ctx context.Context, municipalityID int64, councilType models.CouncilType, name string) (*models.Council, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	c := &models.Council{MunicipalityID: municipalityID, Type: councilType, Name: name}
	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO councils (municipality_id, council_type, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (municipality_id, council_type) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		municipalityID, string(councilType), name,
	).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert council: %w", err)
	}
	return c, nil
}

func (r *councilRepository) GetCouncil(ctx context.Context, municipalitySlug string, councilType models.CouncilType) (*models.Council, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var c models.Council
	var ct string
	err := scope.Conn.QueryRow(ctx, `
		SELECT c.id, c.municipality_id, c.council_type, c.name
		FROM councils c
		JOIN municipalities m ON m.id = c.municipality_id
		WHERE m.slug = $1 AND c.council_type = $2`,
		municipalitySlug, string(councilType),
	).Scan(&c.ID, &c.MunicipalityID, &ct, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get council: %w", err)
	}
	c.Type = models.CouncilType(ct)
	return &c, nil
}

func (r *councilRepository) UpsertMeeting(ctx context.Context, meeting *models.Meeting) (*models.Meeting, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	out := *meeting
	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO meetings (council_id, name, url, start)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url) DO UPDATE
		SET name = EXCLUDED.name,
		    start = EXCLUDED.start
		RETURNING id`,
		meeting.CouncilID, meeting.Name, meeting.URL, meeting.Start,
	).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert meeting: %w", err)
	}
	return &out, nil
}

func (r *councilRepository) GetMeeting(ctx context.Context, id int64) (*models.Meeting, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var m models.Meeting
	err := scope.Conn.QueryRow(ctx, `
		SELECT id, council_id, name, url, start
		FROM meetings
		WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.CouncilID, &m.Name, &m.URL, &m.Start)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return &m, nil
}
