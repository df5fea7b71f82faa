// internal/match/engine.go
package match

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Candidate is a committed match produced by the formation engine, not yet
// finalized into a lobby.
type Candidate struct {
	SeedID       uuid.UUID
	Participants []EnrichedRequest
	JointMin     int
	JointMax     int
	Score        float64
}

// FormMatches runs the greedy group builder over one bucket snapshot.
// Requests are seeds in searchStartTime order; each seed expands with the
// highest-pairwise-score unused peer, subject to every pairwise score
// passing the threshold. Given identical snapshots and skills the result is
// deterministic.
func FormMatches(bucket []EnrichedRequest, now time.Time) []Candidate {
	// Drop requests whose minimum can never be satisfied by this bucket.
	eligible := make([]EnrichedRequest, 0, len(bucket))
	for _, e := range bucket {
		if e.Req.Criteria.GroupSize.Min <= len(bucket) {
			eligible = append(eligible, e)
		}
	}

	// Stable order: oldest first, ties by request id for determinism.
	sort.SliceStable(eligible, func(i, j int) bool {
		ti, tj := eligible[i].Req.SearchStartTime, eligible[j].Req.SearchStartTime
		if ti.Equal(tj) {
			return eligible[i].Req.ID.String() < eligible[j].Req.ID.String()
		}
		return ti.Before(tj)
	})

	used := make(map[uuid.UUID]bool)
	var committed []Candidate

	for _, seed := range eligible {
		if used[seed.Req.ID] {
			continue
		}
		group := []EnrichedRequest{seed}
		jointMin := seed.Req.Criteria.GroupSize.Min
		jointMax := seed.Req.Criteria.GroupSize.Max

		preselected := make(map[uuid.UUID]bool)
		for _, uid := range seed.Req.Criteria.PreselectedUsers {
			preselected[uid] = true
		}

		for len(group) < jointMax {
			best, ok := pickBest(group, eligible, used, jointMin, jointMax, preselected, now)
			if !ok {
				break
			}
			group = append(group, best)
			if best.Req.Criteria.GroupSize.Min > jointMin {
				jointMin = best.Req.Criteria.GroupSize.Min
			}
			if best.Req.Criteria.GroupSize.Max < jointMax {
				jointMax = best.Req.Criteria.GroupSize.Max
			}
		}

		if len(group) >= jointMin && len(group) <= jointMax {
			for _, member := range group {
				used[member.Req.ID] = true
			}
			committed = append(committed, Candidate{
				SeedID:       seed.Req.ID,
				Participants: group,
				JointMin:     jointMin,
				JointMax:     jointMax,
				Score:        GroupScore(group, now),
			})
		}
	}
	return committed
}

// pickBest selects the strongest compatible unused candidate for the group.
// Preselected users of the seed win ties; otherwise higher average pairwise
// score wins, then older searchStartTime.
func pickBest(group []EnrichedRequest, pool []EnrichedRequest, used map[uuid.UUID]bool,
	jointMin, jointMax int, preselected map[uuid.UUID]bool, now time.Time) (EnrichedRequest, bool) {

	inGroup := make(map[uuid.UUID]bool, len(group))
	for _, m := range group {
		inGroup[m.Req.ID] = true
	}

	var best EnrichedRequest
	bestScore := -1.0
	bestPre := false
	found := false

	for _, cand := range pool {
		if used[cand.Req.ID] || inGroup[cand.Req.ID] {
			continue
		}

		// Adding the candidate must keep the joint window non-empty and the
		// group within it.
		newMin, newMax := jointMin, jointMax
		if cand.Req.Criteria.GroupSize.Min > newMin {
			newMin = cand.Req.Criteria.GroupSize.Min
		}
		if cand.Req.Criteria.GroupSize.Max < newMax {
			newMax = cand.Req.Criteria.GroupSize.Max
		}
		if newMin > newMax || len(group)+1 > newMax {
			continue
		}

		// Every pairwise score against the current group must pass.
		total := 0.0
		compatible := true
		for _, member := range group {
			s, ok := PairScore(member, cand, now)
			if !ok || s < pairThreshold {
				compatible = false
				break
			}
			total += s
		}
		if !compatible {
			continue
		}
		avg := total / float64(len(group))
		pre := preselected[cand.Req.UserID]

		better := false
		switch {
		case pre && !bestPre:
			better = true
		case pre == bestPre && avg > bestScore:
			better = true
		case pre == bestPre && avg == bestScore && found &&
			cand.Req.SearchStartTime.Before(best.Req.SearchStartTime):
			better = true
		}
		if better {
			best, bestScore, bestPre, found = cand, avg, pre, true
		}
	}
	return best, found
}
