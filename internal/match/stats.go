// internal/match/stats.go
package match

import (
	"sync"
	"time"
)

const (
	rollingWindow    = 100
	seedAvgWait      = 60 * time.Second
	minWaitEstimate  = 10 * time.Second
	maxWaitEstimate  = 30 * time.Minute
)

// Confidence qualifies a wait-time estimate.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
)

// WaitEstimate is the queue-time projection returned by status calls.
type WaitEstimate struct {
	Duration   time.Duration `json:"estimatedWaitTime"`
	Confidence Confidence    `json:"confidence"`
}

// Stats tracks rolling matchmaking statistics. Writes come only from the
// coordinator's tick (single writer); reads may come from any handler.
type Stats struct {
	mu            sync.RWMutex
	waits         []time.Duration // ring of the last rollingWindow matched waits
	next          int
	matchesFormed int64
}

func NewStats() *Stats {
	return &Stats{waits: make([]time.Duration, 0, rollingWindow)}
}

// RecordMatch folds one finalized match's average wait into the window.
func (s *Stats) RecordMatch(avgWait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchesFormed++
	if len(s.waits) < rollingWindow {
		s.waits = append(s.waits, avgWait)
		return
	}
	s.waits[s.next] = avgWait
	s.next = (s.next + 1) % rollingWindow
}

// AvgWait returns the rolling average, seeded to 60 s before any matches.
func (s *Stats) AvgWait() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.waits) == 0 {
		return seedAvgWait
	}
	var total time.Duration
	for _, w := range s.waits {
		total += w
	}
	return total / time.Duration(len(s.waits))
}

// MatchesFormed returns the lifetime count of finalized matches.
func (s *Stats) MatchesFormed() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matchesFormed
}

// Estimate projects wait time for a queue of queueSize given the bucket's
// minimum group size, clamped to [10 s, 30 min].
func (s *Stats) Estimate(queueSize, minGroupSize int) WaitEstimate {
	base := s.AvgWait()
	n := minGroupSize
	if n < 1 {
		n = 1
	}

	var est time.Duration
	switch {
	case queueSize >= n:
		est = base / time.Duration(n)
	case queueSize > 0:
		est = base * time.Duration(n-queueSize)
	default:
		est = base * time.Duration(n)
	}

	if est < minWaitEstimate {
		est = minWaitEstimate
	}
	if est > maxWaitEstimate {
		est = maxWaitEstimate
	}

	conf := ConfidenceLow
	if queueSize >= n {
		conf = ConfidenceMedium
	}
	return WaitEstimate{Duration: est, Confidence: conf}
}
