// internal/match/relax.go
package match

import (
	"time"

	"github.com/arcadehall/arena/internal/models"
)

// Relaxation widens a request's effective criteria over discrete levels as
// it waits. Stored criteria are never mutated; EffectiveCriteria derives a
// widened copy per level.
//
//	level 0: radius 10, preferences as declared
//	level 1: radius 20, strict -> preferred
//	level 2: radius 35, preferred -> any
//	level 3: radius 60, any (terminal)

// MaxRelaxationLevel is the terminal level.
const MaxRelaxationLevel = 3

// relaxThresholds are measured from searchStartTime. A duration exactly at
// a threshold advances the level.
var relaxThresholds = []time.Duration{
	30 * time.Second,
	90 * time.Second,
	180 * time.Second,
}

var skillRadii = []int{10, 20, 35, 60}

// LevelFor returns the relaxation level warranted by a search duration.
func LevelFor(searchDuration time.Duration) int {
	level := 0
	for _, threshold := range relaxThresholds {
		if searchDuration >= threshold {
			level++
		}
	}
	return level
}

// SkillRadius returns the skill window for a relaxation level.
func SkillRadius(level int) int {
	if level < 0 {
		level = 0
	}
	if level > MaxRelaxationLevel {
		level = MaxRelaxationLevel
	}
	return skillRadii[level]
}

// widenPref applies one widening step per level above zero.
func widenPref(p models.Preference, level int) models.Preference {
	for i := 0; i < level; i++ {
		switch p {
		case models.PrefStrict:
			p = models.PrefPreferred
		case models.PrefPreferred:
			p = models.PrefAny
		}
	}
	return p
}

// EffectiveCriteria returns a copy of the criteria with region and language
// strictness widened for the given level. Level 3 forces both to any.
func EffectiveCriteria(c models.MatchCriteria, level int) models.MatchCriteria {
	eff := c
	if level >= MaxRelaxationLevel {
		eff.RegionPreference = models.PrefAny
		eff.LanguagePreference = models.PrefAny
		return eff
	}
	eff.RegionPreference = widenPref(c.RegionPreference, level)
	eff.LanguagePreference = widenPref(c.LanguagePreference, level)
	return eff
}
