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

// EntityRepository stores people and companies keyed by kennitala.
type EntityRepository interface {
	// FindByName returns every entity of kind whose name equals name,
	// ignoring case and diacritics.
	FindByName(ctx context.Context, name string, kind models.EntityKind) ([]*models.Entity, error)
	GetByKennitala(ctx context.Context, kennitala string) (*models.Entity, error)
	Get(ctx context.Context, id int64) (*models.Entity, error)
	// CreateIfAbsent inserts the entity, or returns the existing row when the
	// kennitala is already known.
	CreateIfAbsent(ctx context.Context, entity *models.Entity) (*models.Entity, error)
	// FuzzySearch returns entities whose slug is within maxDistance edits of
	// slug, closest first.
	FuzzySearch(ctx context.Context, slug string, maxDistance, limit int) ([]*models.Entity, error)
}

type entityRepository struct{}

// NewEntityRepository creates a new entity repository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

const entityColumns = `id, kennitala, name, slug, kind, birth_date`

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	var kind string
	if err := row.Scan(&e.ID, &e.Kennitala, &e.Name, &e.Slug, &kind, &e.BirthDate); err != nil {
		return nil, err
	}
	e.Kind = models.EntityKind(kind)
	return &e, nil
}

func collectEntities(rows pgx.Rows) ([]*models.Entity, error) {
	defer rows.Close()

	var out []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return out, nil
}

func (r *entityRepository) FindByName(ctx context.Context, name string, kind models.EntityKind) ([]*models.Entity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE fold_name(name) = fold_name($1)
		  AND kind = $2
		ORDER BY id`,
		name, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find entities by name: %w", err)
	}
	return collectEntities(rows)
}

func (r *entityRepository) GetByKennitala(ctx context.Context, kennitala string) (*models.Entity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	e, err := scanEntity(scope.Conn.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE kennitala = $1`, kennitala))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entity by kennitala: %w", err)
	}
	return e, nil
}

func (r *entityRepository) Get(ctx context.Context, id int64) (*models.Entity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	e, err := scanEntity(scope.Conn.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

func (r *entityRepository) CreateIfAbsent(ctx context.Context, entity *models.Entity) (*models.Entity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	e, err := scanEntity(scope.Conn.QueryRow(ctx, `
		INSERT INTO entities (kennitala, name, slug, kind, birth_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kennitala) DO UPDATE SET kennitala = entities.kennitala
		RETURNING `+entityColumns,
		entity.Kennitala, entity.Name, entity.Slug, string(entity.Kind), entity.BirthDate,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create entity %s: %w", entity.Kennitala, err)
	}
	return e, nil
}

func (r *entityRepository) FuzzySearch(ctx context.Context, slug string, maxDistance, limit int) ([]*models.Entity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM (
			SELECT *, levenshtein_less_equal(slug, $1, $2) AS distance
			FROM entities
		) e
		WHERE distance <= $2
		ORDER BY distance, name
		LIMIT $3`,
		slug, maxDistance, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	return collectEntities(rows)
}
