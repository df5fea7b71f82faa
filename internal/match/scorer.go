// internal/match/scorer.go
package match

import (
	"time"

	"github.com/arcadehall/arena/internal/models"
)

// Dimension weights. They sum to 100; group scores are clamped there anyway.
const (
	weightRegion    = 30.0
	weightSkill     = 25.0
	weightLanguage  = 15.0
	weightGroupSize = 10.0
	weightKarma     = 10.0
	weightWaitBonus = 10.0
)

// pairThreshold is the minimum pairwise score for two requests to share a
// group.
const pairThreshold = 50.0

// waitBonusWindow is the search duration at which the wait bonus saturates.
const waitBonusWindow = 180 * time.Second

// EnrichedRequest is the scorer's input: a request plus the owner's skill
// on the bucket's game and karma. Enrichment replaces the source's
// cross-document populate chains so scoring is testable without a database.
type EnrichedRequest struct {
	Req   *models.MatchRequest
	Skill int
	Karma int
}

// effective returns the request's criteria widened to its current
// relaxation level.
func (e EnrichedRequest) effective() models.MatchCriteria {
	return EffectiveCriteria(e.Req.Criteria, e.Req.RelaxationLevel)
}

// PairScore scores an unordered pair in [0,100]. ok=false means the pair is
// not comparable at all: mismatched game mode, a strict region/language
// requirement with no overlap, or a similar-skill requirement with the gap
// outside the wider of the two relaxation radii.
func PairScore(a, b EnrichedRequest, now time.Time) (score float64, ok bool) {
	if a.Req.Criteria.GameMode != b.Req.Criteria.GameMode {
		return 0, false
	}

	effA, effB := a.effective(), b.effective()

	regionScore, regionOK := overlapScore(
		regionSet(effA.Regions), regionSet(effB.Regions),
		effA.RegionPreference, effB.RegionPreference, weightRegion)
	if !regionOK {
		return 0, false
	}

	langScore, langOK := overlapScore(
		stringSet(effA.Languages), stringSet(effB.Languages),
		effA.LanguagePreference, effB.LanguagePreference, weightLanguage)
	if !langOK {
		return 0, false
	}

	skillScore, skillOK := skillProximity(a, b)
	if !skillOK {
		return 0, false
	}

	sizeScore := 0.0
	if windowsOverlap(a.Req.Criteria.GroupSize, b.Req.Criteria.GroupSize) {
		sizeScore = weightGroupSize
	}

	karmaScore := (float64(a.Karma+b.Karma) / 2.0) / 100.0 * weightKarma

	waitScore := (waitFraction(a, now) + waitFraction(b, now)) / 2.0 * weightWaitBonus

	total := regionScore + langScore + skillScore + sizeScore + karmaScore + waitScore
	if total > 100 {
		total = 100
	}
	return total, true
}

// overlapScore handles both the region and language dimensions, which share
// semantics: strict on either side makes a non-empty intersection
// mandatory, ANY (or an empty set) on either side grants full weight, and
// otherwise the weight scales by intersection size over the smaller set.
func overlapScore(setA, setB map[string]bool, prefA, prefB models.Preference, weight float64) (float64, bool) {
	if setA["ANY"] || setB["ANY"] || len(setA) == 0 || len(setB) == 0 {
		return weight, true
	}

	inter := 0
	for v := range setA {
		if setB[v] {
			inter++
		}
	}

	strict := prefA == models.PrefStrict || prefB == models.PrefStrict
	if strict && inter == 0 {
		return 0, false
	}

	smaller := len(setA)
	if len(setB) < smaller {
		smaller = len(setB)
	}
	return weight * float64(inter) / float64(smaller), true
}

// skillProximity scores the skill dimension. With similar preference on
// either side, a gap beyond the wider relaxation radius disqualifies the
// pair; inside it the weight scales linearly with proximity.
func skillProximity(a, b EnrichedRequest) (float64, bool) {
	similar := a.Req.Criteria.SkillPreference == models.SkillSimilar ||
		b.Req.Criteria.SkillPreference == models.SkillSimilar
	if !similar {
		return weightSkill, true
	}

	level := a.Req.RelaxationLevel
	if b.Req.RelaxationLevel > level {
		level = b.Req.RelaxationLevel
	}
	radius := float64(SkillRadius(level))

	gap := float64(a.Skill - b.Skill)
	if gap < 0 {
		gap = -gap
	}
	if gap > radius {
		return 0, false
	}
	return (1 - gap/radius) * weightSkill, true
}

func windowsOverlap(a, b models.GroupSize) bool {
	lo := a.Min
	if b.Min > lo {
		lo = b.Min
	}
	hi := a.Max
	if b.Max < hi {
		hi = b.Max
	}
	return lo <= hi
}

func waitFraction(e EnrichedRequest, now time.Time) float64 {
	f := float64(e.Req.SearchDuration(now)) / float64(waitBonusWindow)
	if f > 1 {
		return 1
	}
	return f
}

// GroupScore averages all pairwise scores over the candidate group. A group
// with any incomparable pair scores 0.
func GroupScore(group []EnrichedRequest, now time.Time) float64 {
	if len(group) < 2 {
		if len(group) == 1 {
			// A single-member group has no pairs; score it by its own wait.
			return waitFraction(group[0], now) * 100
		}
		return 0
	}
	total := 0.0
	pairs := 0
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			s, ok := PairScore(group[i], group[j], now)
			if !ok {
				return 0
			}
			total += s
			pairs++
		}
	}
	return total / float64(pairs)
}

func regionSet(regions []models.Region) map[string]bool {
	set := make(map[string]bool, len(regions))
	for _, r := range regions {
		set[string(r)] = true
	}
	return set
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
