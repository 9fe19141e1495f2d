package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
)

func TestNormalizeEmail(t *testing.T) {
	got, err := normalizeEmail("  Gudrun.Jonsdottir@Reykjavik.IS ")
	require.NoError(t, err)
	assert.Equal(t, "gudrun.jonsdottir@reykjavik.is", got)

	for _, bad := range []string{"", "gudrun", "gudrun@", "Gudrun <gudrun@example.is>", "a@b.is, c@d.is"} {
		_, err := normalizeEmail(bad)
		assert.ErrorIs(t, err, apperrors.ErrInvalidEmail, bad)
	}
}
