package ras

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAnalyzer_GroupAndRank(t *testing.T) {
	a := NewSessionAnalyzer()
	a.TopN = 2
	now := time.Now()

	current := []Session{
		{SessionID: "1", State: SessionActive, CPUTimeMS: 100},
		{SessionID: "2", State: SessionActive, CPUTimeMS: 900},
		{SessionID: "3", State: SessionSleeping, CPUTimeMS: 500},
		{SessionID: "4", State: SessionBlocked, CPUTimeMS: 50},
	}
	prior := []Session{
		{SessionID: "1", State: SessionActive},
		{SessionID: "9", State: SessionActive}, // gone in current poll
	}

	report := a.Analyze(current, prior, now)

	assert.Equal(t, 2, report.ByState[SessionActive])
	assert.Equal(t, 1, report.ByState[SessionSleeping])
	assert.Equal(t, 1, report.ByState[SessionBlocked])
	assert.Equal(t, 1, report.ByState[SessionTerminated], "missing sessions count as terminated")

	require.Len(t, report.TopCPU, 2)
	assert.Equal(t, "2", report.TopCPU[0].SessionID)
	assert.Equal(t, "3", report.TopCPU[1].SessionID)
}

func TestSessionAnalyzer_BlockedDuration(t *testing.T) {
	a := NewSessionAnalyzer()
	a.BlockedFor = 60 * time.Second
	t0 := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	blocked := []Session{{SessionID: "7", State: SessionBlocked}}

	// First sighting starts the clock; nothing is flagged yet.
	report := a.Analyze(blocked, nil, t0)
	assert.Empty(t, report.Problematic)

	// Still blocked 30s later: under the limit.
	report = a.Analyze(blocked, blocked, t0.Add(30*time.Second))
	assert.Empty(t, report.Problematic)

	// Past the limit: flagged.
	report = a.Analyze(blocked, blocked, t0.Add(90*time.Second))
	require.Len(t, report.Problematic, 1)
	assert.Contains(t, report.Problematic[0].Reason, "blocked for")

	// Once the session unblocks the clock resets.
	unblocked := []Session{{SessionID: "7", State: SessionActive}}
	report = a.Analyze(unblocked, blocked, t0.Add(2*time.Minute))
	assert.Empty(t, report.Problematic)

	report = a.Analyze(blocked, unblocked, t0.Add(3*time.Minute))
	assert.Empty(t, report.Problematic, "re-blocking starts a fresh clock")
}

func TestSessionAnalyzer_ConcurrentAnalyze(t *testing.T) {
	a := NewSessionAnalyzer()
	a.BlockedFor = time.Second
	t0 := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	blocked := []Session{
		{SessionID: "1", State: SessionBlocked},
		{SessionID: "2", State: SessionBlocked},
		{SessionID: "3", State: SessionActive},
	}

	// Analyze is reached from the periodic cycle and from request
	// handlers at the same time; run with -race to catch regressions.
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				a.Analyze(blocked, blocked, t0.Add(time.Duration(offset*50+i)*time.Millisecond))
			}
		}(w)
	}
	wg.Wait()

	report := a.Analyze(blocked, blocked, t0.Add(2*time.Second))
	require.Len(t, report.Problematic, 2, "both blocked sessions exceed the limit after the storm")
}

func TestSessionAnalyzer_MemoryCeiling(t *testing.T) {
	a := NewSessionAnalyzer()
	a.MemoryLimitBytes = 1 << 30

	sessions := []Session{
		{SessionID: "1", State: SessionActive, MemoryBytes: 512 << 20},
		{SessionID: "2", State: SessionActive, MemoryBytes: 3 << 30},
	}

	report := a.Analyze(sessions, nil, time.Now())

	require.Len(t, report.Problematic, 1)
	assert.Equal(t, "2", report.Problematic[0].Session.SessionID)
	assert.Contains(t, report.Problematic[0].Reason, "ceiling")
}
