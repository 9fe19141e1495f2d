package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/config"
	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/repositories"
)

// SeedCouncils makes sure every municipality and council of the catalogue
// exists. Existing rows keep their ids; names are refreshed.
func SeedCouncils(ctx context.Context, repo repositories.CouncilRepository, catalogue []config.Municipality, logger *zap.Logger) error {
	councils := 0
	for _, m := range catalogue {
		municipality, err := repo.UpsertMunicipality(ctx, m.Slug, m.Name)
		if err != nil {
			return fmt.Errorf("seed municipality %s: %w", m.Slug, err)
		}
		for _, c := range m.Councils {
			ct := models.CouncilType(c.Type)
			if !ct.IsValid() {
				return fmt.Errorf("seed %s: unknown council type %q", m.Slug, c.Type)
			}
			if _, err := repo.UpsertCouncil(ctx, municipality.ID, ct, c.Name); err != nil {
				return fmt.Errorf("seed council %s/%s: %w", m.Slug, c.Type, err)
			}
			councils++
		}
	}

	logger.Info("Seeded council catalogue",
		zap.Int("municipalities", len(catalogue)),
		zap.Int("councils", councils))
	return nil
}
