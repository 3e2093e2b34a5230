package resource

import (
	"sync"
	"testing"
	"time"

	"github.com/SandersNeo/perfdiag/src/ras"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(at time.Time, cpu, memory float64, active, locked int) ras.ClusterMetrics {
	return ras.ClusterMetrics{
		ClusterID:      "prod-1",
		CapturedAt:     at,
		CPUPercent:     cpu,
		MemoryPercent:  memory,
		ActiveSessions: active,
		LockedSessions: locked,
	}
}

func usageOf(t *testing.T, usages []Usage, rt Type) Usage {
	t.Helper()
	for _, u := range usages {
		if u.Type == rt {
			return u
		}
	}
	t.Fatalf("no usage for %s", rt)
	return Usage{}
}

func TestRing_EvictsOldest(t *testing.T) {
	ring := NewRing(3)
	t0 := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ring.Append(snapshot(t0.Add(time.Duration(i)*time.Minute), float64(i), 0, 0, 0))
	}

	history := ring.Snapshots()
	require.Len(t, history, 3)
	assert.Equal(t, 2.0, history[0].CPUPercent, "oldest retained is the third snapshot")
	assert.Equal(t, 4.0, history[2].CPUPercent)
}

func TestRing_CopyOnRead(t *testing.T) {
	ring := NewRing(3)
	t0 := time.Now()
	ring.Append(snapshot(t0, 10, 0, 0, 0))

	history := ring.Snapshots()
	history[0].CPUPercent = 99

	assert.Equal(t, 10.0, ring.Snapshots()[0].CPUPercent, "readers must not see each other's mutations")
}

func TestRing_ConcurrentReaders(t *testing.T) {
	ring := NewRing(5)
	t0 := time.Now()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			ring.Append(snapshot(t0.Add(time.Duration(i)*time.Second), float64(i%100), 0, i, 0))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, m := range ring.Snapshots() {
				_ = m.CPUPercent
			}
		}
	}()
	wg.Wait()
}

func TestTrack_SingleSnapshotIsStable(t *testing.T) {
	ring := NewRing(5)
	ring.Append(snapshot(time.Now(), 95, 95, 900, 10))

	usages := NewTracker().Track(ring)

	cpu := usageOf(t, usages, CPU)
	assert.Equal(t, 95.0, cpu.UsagePercent)
	assert.Equal(t, Stable, cpu.Trend, "one snapshot can never establish a trend")
	assert.Nil(t, cpu.PredictedExhaustion)
}

func TestTrack_RisingWithForecast(t *testing.T) {
	ring := NewRing(5)
	t0 := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	// +5% per minute: from 75% exhaustion lands 5 minutes after the last capture.
	for i := 0; i < 5; i++ {
		ring.Append(snapshot(t0.Add(time.Duration(i)*time.Minute), 55+float64(i)*5, 40, 0, 0))
	}

	usages := NewTracker().Track(ring)
	cpu := usageOf(t, usages, CPU)

	assert.Equal(t, Rising, cpu.Trend)
	require.NotNil(t, cpu.PredictedExhaustion)
	expected := t0.Add(4 * time.Minute).Add(5 * time.Minute)
	assert.WithinDuration(t, expected, *cpu.PredictedExhaustion, time.Second)
}

func TestTrack_FallingHasNoForecast(t *testing.T) {
	ring := NewRing(5)
	t0 := time.Now()
	for i := 0; i < 5; i++ {
		ring.Append(snapshot(t0.Add(time.Duration(i)*time.Minute), 90-float64(i)*10, 40, 0, 0))
	}

	cpu := usageOf(t, NewTracker().Track(ring), CPU)
	assert.Equal(t, Falling, cpu.Trend)
	assert.Nil(t, cpu.PredictedExhaustion)
}

func TestTrack_NoiseBandDampsFlapping(t *testing.T) {
	ring := NewRing(5)
	t0 := time.Now()
	values := []float64{50, 50.2, 49.9, 50.1, 50}
	for i, v := range values {
		ring.Append(snapshot(t0.Add(time.Duration(i)*time.Minute), v, 40, 0, 0))
	}

	cpu := usageOf(t, NewTracker().Track(ring), CPU)
	assert.Equal(t, Stable, cpu.Trend, "sub-noise jitter must not read as a trend")
}

func TestTrack_ForecastBeyondHorizonIsNil(t *testing.T) {
	tracker := NewTracker()
	tracker.Horizon = time.Hour

	ring := NewRing(5)
	t0 := time.Now()
	// +1% per minute from 20%: exhaustion is 80 minutes out, past the 1h horizon.
	for i := 0; i < 5; i++ {
		ring.Append(snapshot(t0.Add(time.Duration(i)*time.Minute), 16+float64(i), 40, 0, 0))
	}

	cpu := usageOf(t, tracker.Track(ring), CPU)
	assert.Equal(t, Rising, cpu.Trend)
	assert.Nil(t, cpu.PredictedExhaustion)
}

func TestTrack_ConnectionsAndLocks(t *testing.T) {
	tracker := NewTracker()
	tracker.MaxConnections = 100

	ring := NewRing(5)
	ring.Append(snapshot(time.Now(), 10, 10, 45, 9))

	usages := tracker.Track(ring)
	assert.Equal(t, 45.0, usageOf(t, usages, Connections).UsagePercent)
	assert.Equal(t, 20.0, usageOf(t, usages, Locks).UsagePercent)
}
