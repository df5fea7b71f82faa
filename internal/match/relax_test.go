// internal/match/relax_test.go
package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcadehall/arena/internal/models"
)

func TestLevelForThresholds(t *testing.T) {
	cases := []struct {
		wait  time.Duration
		level int
	}{
		{0, 0},
		{29*time.Second + 900*time.Millisecond, 0},
		{30 * time.Second, 1},
		{89 * time.Second, 1},
		{90 * time.Second, 2},
		{179 * time.Second, 2},
		{180 * time.Second, 3},
		{time.Hour, 3},
	}
	for _, tc := range cases {
		require.Equal(t, tc.level, LevelFor(tc.wait), "wait %s", tc.wait)
	}
}

func TestSkillRadiusPerLevel(t *testing.T) {
	require.Equal(t, 10, SkillRadius(0))
	require.Equal(t, 20, SkillRadius(1))
	require.Equal(t, 35, SkillRadius(2))
	require.Equal(t, 60, SkillRadius(3))
	// Out-of-range levels clamp.
	require.Equal(t, 10, SkillRadius(-1))
	require.Equal(t, 60, SkillRadius(7))
}

func TestEffectiveCriteriaWidensPreferences(t *testing.T) {
	base := models.MatchCriteria{
		RegionPreference:   models.PrefStrict,
		LanguagePreference: models.PrefPreferred,
	}

	eff := EffectiveCriteria(base, 0)
	require.Equal(t, models.PrefStrict, eff.RegionPreference)

	eff = EffectiveCriteria(base, 1)
	require.Equal(t, models.PrefPreferred, eff.RegionPreference)
	require.Equal(t, models.PrefAny, eff.LanguagePreference)

	eff = EffectiveCriteria(base, 3)
	require.Equal(t, models.PrefAny, eff.RegionPreference)
	require.Equal(t, models.PrefAny, eff.LanguagePreference)

	// Stored criteria are never mutated.
	require.Equal(t, models.PrefStrict, base.RegionPreference)
}
