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

// CaseRepository stores cases and the entities associated with them.
type CaseRepository interface {
	// Upsert returns the case with serial in the council, creating it on first
	// sight. A non-empty address replaces the stored one.
	Upsert(ctx context.Context, councilID int64, serial, address string) (*models.Case, error)
	Get(ctx context.Context, id int64) (*models.Case, error)
	SetAddressID(ctx context.Context, caseID, addressID int64) error
	// AdvanceStatus records the outcome of a minute of a meeting that started
	// at meetingStart, unless a later meeting already did. A nil status is
	// stored as well: an unclassified later minute still supersedes older
	// decisions. Returns false when the update was discarded as out of order.
	AdvanceStatus(ctx context.Context, caseID int64, status *models.DecisionStatus, meetingStart time.Time) (bool, error)
	// AddEntity associates an entity with a case. Associations are never
	// removed, and once an applicant always an applicant.
	AddEntity(ctx context.Context, caseID, entityID int64, applicant bool) error
	ListEntities(ctx context.Context, caseID int64) ([]*models.CaseEntity, error)
}

type caseRepository struct{}

// NewCaseRepository creates a new case repository.
func NewCaseRepository() CaseRepository {
	return &caseRepository{}
}

var _ CaseRepository = (*caseRepository)(nil)

const caseColumns = `id, serial, council_id, address, address_id, status, updated`

func scanCase(row pgx.Row) (*models.Case, error) {
	var c models.Case
	var status *string
	if err := row.Scan(&c.ID, &c.Serial, &c.CouncilID, &c.Address, &c.AddressID, &status, &c.Updated); err != nil {
		return nil, err
	}
	c.Status = toStatus(status)
	return &c, nil
}

func (r *caseRepository) Upsert(ctx context.Context, councilID int64, serial, address string) (*models.Case, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	c, err := scanCase(scope.Conn.QueryRow(ctx, `
		INSERT INTO cases (serial, council_id, address)
		VALUES ($1, $2, $3)
		ON CONFLICT (serial, council_id) DO UPDATE
		SET address = CASE WHEN EXCLUDED.address <> '' THEN EXCLUDED.address ELSE cases.address END
		RETURNING `+caseColumns,
		serial, councilID, address,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert case %s: %w", serial, err)
	}
	return c, nil
}

func (r *caseRepository) Get(ctx context.Context, id int64) (*models.Case, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	c, err := scanCase(scope.Conn.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

func (r *caseRepository) SetAddressID(ctx context.Context, caseID, addressID int64) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `UPDATE cases SET address_id = $2 WHERE id = $1`, caseID, addressID)
	if err != nil {
		return fmt.Errorf("failed to set case address: %w", err)
	}
	return nil
}

func (r *caseRepository) AdvanceStatus(ctx context.Context, caseID int64, status *models.DecisionStatus, meetingStart time.Time) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}

	// Equal starts are the same minute being processed again: a case has
	// at most one minute per meeting.
	tag, err := scope.Conn.Exec(ctx, `
		UPDATE cases
		SET status = $2, updated = $3
		WHERE id = $1
		  AND (updated IS NULL OR updated <= $3)`,
		caseID, statusArg, meetingStart,
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance case status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *caseRepository) AddEntity(ctx context.Context, caseID, entityID int64, applicant bool) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO case_entities (case_id, entity_id, applicant)
		VALUES ($1, $2, $3)
		ON CONFLICT (case_id, entity_id) DO UPDATE
		SET applicant = case_entities.applicant OR EXCLUDED.applicant`,
		caseID, entityID, applicant,
	)
	if err != nil {
		return fmt.Errorf("failed to add case entity: %w", err)
	}
	return nil
}

func (r *caseRepository) ListEntities(ctx context.Context, caseID int64) ([]*models.CaseEntity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT case_id, entity_id, applicant
		FROM case_entities
		WHERE case_id = $1
		ORDER BY entity_id`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list case entities: %w", err)
	}
	defer rows.Close()

	var out []*models.CaseEntity
	for rows.Next() {
		var ce models.CaseEntity
		if err := rows.Scan(&ce.CaseID, &ce.EntityID, &ce.Applicant); err != nil {
			return nil, fmt.Errorf("failed to scan case entity: %w", err)
		}
		out = append(out, &ce)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating case entities: %w", err)
	}
	return out, nil
}

func toStatus(s *string) *models.DecisionStatus {
	if s == nil {
		return nil
	}
	status := models.DecisionStatus(*s)
	return &status
}

func fromStatus(s *models.DecisionStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
