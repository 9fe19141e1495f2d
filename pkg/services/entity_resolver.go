package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/kennitala"
	"github.com/planwatch/planwatch-engine/pkg/logging"
	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/registry"
	"github.com/planwatch/planwatch-engine/pkg/repositories"
	"github.com/planwatch/planwatch-engine/pkg/textutil"
)

const (
	// maxFuzzyDistance bounds the edit distance of fuzzy entity lookups.
	maxFuzzyDistance  = 5
	defaultFuzzyLimit = 10
)

// EntityResolver maps names and identifiers to persisted entities.
type EntityResolver interface {
	// Resolve finds the company called name. Returns nil when the name is
	// ambiguous or cannot be resolved; only storage failures are errors.
	Resolve(ctx context.Context, name string) (*models.Entity, error)
	// ResolveByKennitala returns the entity with the given identifier,
	// creating it under name on first sight.
	ResolveByKennitala(ctx context.Context, kt, name string) (*models.Entity, error)
	// FuzzySearch returns entities whose names are close to query, closest
	// first. It is meant for typeahead and never links entities to cases.
	FuzzySearch(ctx context.Context, query string, limit int) ([]*models.Entity, error)
}

type entityResolver struct {
	repo     repositories.EntityRepository
	registry registry.Searcher
	logger   *zap.Logger
}

// NewEntityResolver creates an EntityResolver backed by repo and the company registry.
func NewEntityResolver(repo repositories.EntityRepository, searcher registry.Searcher, logger *zap.Logger) EntityResolver {
	return &entityResolver{
		repo:     repo,
		registry: searcher,
		logger:   logger.Named("entity-resolver"),
	}
}

var _ EntityResolver = (*entityResolver)(nil)

func (s *entityResolver) Resolve(ctx context.Context, name string) (*models.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	known, err := s.repo.FindByName(ctx, name, models.EntityKindCompany)
	if err != nil {
		return nil, fmt.Errorf("failed to look up entity %q: %w", name, err)
	}
	switch {
	case len(known) == 1:
		return known[0], nil
	case len(known) > 1:
		s.logger.Debug("Entity name is ambiguous",
			zap.String("name", name),
			zap.Int("candidates", len(known)))
		return nil, nil
	}

	kt, err := s.registry.Lookup(ctx, name)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		level := zap.InfoLevel
		if !registry.IsUnresolvable(err) {
			level = zap.WarnLevel
		}
		s.logger.Log(level, "Could not resolve entity in registry",
			zap.String("name", name),
			zap.Error(err))
		return nil, nil
	}

	return s.create(ctx, kt, name)
}

func (s *entityResolver) ResolveByKennitala(ctx context.Context, kt, name string) (*models.Entity, error) {
	kt = kennitala.Clean(kt)
	if !kennitala.Validate(kt) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidKennitala, kt)
	}

	existing, err := s.repo.GetByKennitala(ctx, kt)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up kennitala %s: %w", kt, err)
	}
	return s.create(ctx, kt, name)
}

// create stores a new entity. A concurrent creation of the same
// kennitala returns the row that won.
func (s *entityResolver) create(ctx context.Context, kt, name string) (*models.Entity, error) {
	entity := &models.Entity{
		Kennitala: kt,
		Name:      strings.TrimSpace(name),
		Slug:      textutil.Slug(name),
		Kind:      models.EntityKindCompany,
	}
	if kennitala.KindOf(kt) == kennitala.Person {
		entity.Kind = models.EntityKindPerson
	}
	if born, err := kennitala.BirthDate(kt); err == nil {
		entity.BirthDate = &born
	}

	created, err := s.repo.CreateIfAbsent(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity %s: %w", kt, err)
	}
	s.logger.Debug("Resolved entity",
		zap.String("name", created.Name),
		zap.String("kennitala", logging.MaskKennitala(created.Kennitala)))
	return created, nil
}

func (s *entityResolver) FuzzySearch(ctx context.Context, query string, limit int) ([]*models.Entity, error) {
	slug := textutil.Slug(query)
	if slug == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultFuzzyLimit
	}
	return s.repo.FuzzySearch(ctx, slug, maxFuzzyDistance, limit)
}
