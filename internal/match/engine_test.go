// internal/match/engine_test.go
package match

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arcadehall/arena/internal/models"
)

func TestFormMatchesPerfectPair(t *testing.T) {
	now := time.Now()
	a := enriched(50, 50, 0, nil)
	b := enriched(52, 50, 0, nil)
	a.Req.SearchStartTime = now.Add(-2 * time.Second)
	b.Req.SearchStartTime = now.Add(-time.Second)

	committed := FormMatches([]EnrichedRequest{a, b}, now)
	require.Len(t, committed, 1)

	cand := committed[0]
	require.Equal(t, a.Req.ID, cand.SeedID, "oldest request seeds the group")
	require.Len(t, cand.Participants, 2)
	require.Equal(t, 2, cand.JointMin)
	require.Equal(t, 2, cand.JointMax)
	require.GreaterOrEqual(t, cand.Score, pairThreshold)
}

func TestFormMatchesSkipsSubThresholdPairs(t *testing.T) {
	now := time.Now()
	// Comparable but weak: disjoint non-strict regions zero the region
	// weight, a 9-point skill gap nearly zeroes the skill weight, and zero
	// karma drops that dimension. Pairwise lands well under 50.
	a := enriched(50, 0, 0, nil)
	b := enriched(59, 0, 0, func(c *models.MatchCriteria) {
		c.Regions = []models.Region{models.RegionEU, models.RegionAS}
	})

	// Sanity: the pair is comparable but below the commit threshold.
	score, ok := PairScore(a, b, now)
	require.True(t, ok)
	require.Less(t, score, pairThreshold)

	require.Empty(t, FormMatches([]EnrichedRequest{a, b}, now))
}

func TestFormMatchesDropsUnsatisfiableMinimums(t *testing.T) {
	now := time.Now()
	a := enriched(50, 50, 0, func(c *models.MatchCriteria) { c.GroupSize = models.GroupSize{Min: 10, Max: 20} })
	b := enriched(51, 50, 0, func(c *models.MatchCriteria) { c.GroupSize = models.GroupSize{Min: 10, Max: 20} })

	require.Empty(t, FormMatches([]EnrichedRequest{a, b}, now), "min 10 can never fill from a 2-deep bucket")
}

func TestFormMatchesSinglePlayerWindow(t *testing.T) {
	now := time.Now()
	solo := enriched(50, 50, 0, func(c *models.MatchCriteria) { c.GroupSize = models.GroupSize{Min: 1, Max: 1} })

	committed := FormMatches([]EnrichedRequest{solo}, now)
	require.Len(t, committed, 1)
	require.Len(t, committed[0].Participants, 1)
	require.Equal(t, 1, committed[0].JointMin)
	require.Equal(t, 1, committed[0].JointMax)
}

func TestFormMatchesJointWindowNarrows(t *testing.T) {
	now := time.Now()
	wide := func(c *models.MatchCriteria) { c.GroupSize = models.GroupSize{Min: 2, Max: 6} }
	tight := func(c *models.MatchCriteria) { c.GroupSize = models.GroupSize{Min: 2, Max: 3} }

	a := enriched(50, 50, 0, wide)
	b := enriched(51, 50, 0, tight)
	c := enriched(52, 50, 0, wide)
	d := enriched(53, 50, 0, wide)
	a.Req.SearchStartTime = now.Add(-4 * time.Second)
	b.Req.SearchStartTime = now.Add(-3 * time.Second)
	c.Req.SearchStartTime = now.Add(-2 * time.Second)
	d.Req.SearchStartTime = now.Add(-time.Second)

	committed := FormMatches([]EnrichedRequest{a, b, c, d}, now)
	require.NotEmpty(t, committed)
	first := committed[0]
	require.LessOrEqual(t, len(first.Participants), 3, "tight member caps the joint window at 3")
}

func TestFormMatchesPrefersPreselectedUsers(t *testing.T) {
	now := time.Now()
	friend := enriched(60, 50, 0, nil)

	seed := enriched(50, 90, 0, func(c *models.MatchCriteria) {
		c.PreselectedUsers = []uuid.UUID{friend.Req.UserID}
		c.SkillPreference = models.SkillAny
	})
	// A stronger-scoring stranger competes with the preselected friend.
	stranger := enriched(50, 90, 0, func(c *models.MatchCriteria) { c.SkillPreference = models.SkillAny })

	seed.Req.SearchStartTime = now.Add(-3 * time.Second)
	friend.Req.SearchStartTime = now.Add(-time.Second)
	stranger.Req.SearchStartTime = now.Add(-2 * time.Second)
	friend.Req.Criteria.SkillPreference = models.SkillAny

	committed := FormMatches([]EnrichedRequest{seed, friend, stranger}, now)
	require.NotEmpty(t, committed)

	first := committed[0]
	require.Equal(t, seed.Req.ID, first.SeedID)
	ids := map[uuid.UUID]bool{}
	for _, p := range first.Participants {
		ids[p.Req.UserID] = true
	}
	require.True(t, ids[friend.Req.UserID], "preselected user should win the first slot")
}

func TestFormMatchesDeterministicSeedOrder(t *testing.T) {
	now := time.Now()
	start := now.Add(-time.Second)

	build := func() []EnrichedRequest {
		a := enriched(50, 50, 0, nil)
		b := enriched(51, 50, 0, nil)
		a.Req.SearchStartTime = start
		b.Req.SearchStartTime = start
		return []EnrichedRequest{a, b}
	}

	g1 := build()
	c1 := FormMatches(g1, now)
	c2 := FormMatches([]EnrichedRequest{g1[1], g1[0]}, now)
	require.Len(t, c1, 1)
	require.Len(t, c2, 1)
	require.Equal(t, c1[0].SeedID, c2[0].SeedID, "equal start times tie-break on request id")
}
