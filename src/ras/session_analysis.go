package ras

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SessionAnalyzer ranks and screens live sessions. Detection is purely
// threshold-based and recomputed fresh on every poll; only the current
// and the immediately prior snapshot are consulted, and only to track
// state transitions.
type SessionAnalyzer struct {
	// TopN caps the top-CPU ranking.
	TopN int
	// MemoryLimitBytes is the per-session memory ceiling.
	MemoryLimitBytes int64
	// BlockedFor is how long a session may stay BLOCKED before it is
	// flagged.
	BlockedFor time.Duration

	// mu guards blockedSince; Analyze is called both from the periodic
	// cycle and from request handlers.
	mu           sync.Mutex
	blockedSince map[string]time.Time
}

// NewSessionAnalyzer returns an analyzer with the documented defaults.
func NewSessionAnalyzer() *SessionAnalyzer {
	return &SessionAnalyzer{
		TopN:             10,
		MemoryLimitBytes: 4096 << 20,
		BlockedFor:       60 * time.Second,
		blockedSince:     make(map[string]time.Time),
	}
}

// Problem describes one problematic session with the reason it was
// flagged.
type Problem struct {
	Session Session `json:"session"`
	Reason  string  `json:"reason"`
}

// Report is the outcome of one analysis pass.
type Report struct {
	ByState     map[SessionState]int `json:"sessions_by_state"`
	TopCPU      []Session            `json:"top_cpu_sessions"`
	Problematic []Problem            `json:"problematic_sessions"`
}

// Analyze screens the current poll. Sessions present in the prior poll
// but absent now are reported as terminated in the state counts.
func (a *SessionAnalyzer) Analyze(current, prior []Session, now time.Time) *Report {
	report := &Report{ByState: make(map[SessionState]int, 4)}

	seen := make(map[string]bool, len(current))
	for i := range current {
		seen[current[i].SessionID] = true
		report.ByState[current[i].State]++
	}
	for i := range prior {
		if !seen[prior[i].SessionID] {
			report.ByState[SessionTerminated]++
		}
	}

	report.TopCPU = a.topByCPU(current)
	report.Problematic = a.problems(current, now)
	return report
}

// topByCPU ranks sessions by cpu time descending, capped at TopN.
// Sorting is stable so equal consumers keep poll order.
func (a *SessionAnalyzer) topByCPU(sessions []Session) []Session {
	ranked := make([]Session, len(sessions))
	copy(ranked, sessions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].CPUTimeMS > ranked[j].CPUTimeMS
	})
	limit := a.TopN
	if limit <= 0 {
		limit = 10
	}
	if limit > len(ranked) {
		limit = len(ranked)
	}
	return ranked[:limit]
}

func (a *SessionAnalyzer) problems(sessions []Session, now time.Time) []Problem {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.blockedSince == nil {
		a.blockedSince = make(map[string]time.Time)
	}

	// Drop transition state for sessions that left the BLOCKED state or
	// disappeared entirely.
	blockedNow := make(map[string]bool, len(sessions))
	for i := range sessions {
		if sessions[i].State == SessionBlocked {
			blockedNow[sessions[i].SessionID] = true
		}
	}
	for id := range a.blockedSince {
		if !blockedNow[id] {
			delete(a.blockedSince, id)
		}
	}

	var problems []Problem
	for i := range sessions {
		s := sessions[i]
		if s.State == SessionBlocked {
			since, ok := a.blockedSince[s.SessionID]
			if !ok {
				since = now
				a.blockedSince[s.SessionID] = since
			}
			if blocked := now.Sub(since); blocked >= a.BlockedFor {
				problems = append(problems, Problem{
					Session: s,
					Reason:  fmt.Sprintf("blocked for %s (limit %s)", blocked.Truncate(time.Second), a.BlockedFor),
				})
			}
		}
		if a.MemoryLimitBytes > 0 && s.MemoryBytes > a.MemoryLimitBytes {
			problems = append(problems, Problem{
				Session: s,
				Reason:  fmt.Sprintf("memory %d MB over the %d MB per-session ceiling", s.MemoryBytes>>20, a.MemoryLimitBytes>>20),
			})
		}
	}
	return problems
}
