// internal/match/stats_test.go
package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAvgWaitSeedsBeforeAnyMatch(t *testing.T) {
	s := NewStats()
	require.Equal(t, seedAvgWait, s.AvgWait())
	require.Zero(t, s.MatchesFormed())
}

func TestRecordMatchRollsOverWindow(t *testing.T) {
	s := NewStats()
	for i := 0; i < rollingWindow; i++ {
		s.RecordMatch(10 * time.Second)
	}
	require.Equal(t, 10*time.Second, s.AvgWait())

	// Overwrite the whole ring; the old samples must age out.
	for i := 0; i < rollingWindow; i++ {
		s.RecordMatch(30 * time.Second)
	}
	require.Equal(t, 30*time.Second, s.AvgWait())
	require.Equal(t, int64(2*rollingWindow), s.MatchesFormed())
}

func TestEstimateClampsAndGradesConfidence(t *testing.T) {
	s := NewStats()
	s.RecordMatch(40 * time.Second)

	full := s.Estimate(4, 4)
	require.Equal(t, ConfidenceMedium, full.Confidence)
	require.Equal(t, minWaitEstimate, full.Duration)

	short := s.Estimate(1, 4)
	require.Equal(t, ConfidenceLow, short.Confidence)
	require.Equal(t, 2*time.Minute, short.Duration)

	empty := s.Estimate(0, 100)
	require.Equal(t, maxWaitEstimate, empty.Duration)
}
