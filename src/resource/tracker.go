package resource

import (
	"time"

	"github.com/SandersNeo/perfdiag/src/ras"
)

// Type is a tracked resource dimension.
type Type string

const (
	CPU         Type = "CPU"
	Memory      Type = "MEMORY"
	Connections Type = "CONNECTIONS"
	Locks       Type = "LOCKS"
)

// Types lists all tracked dimensions in report order.
var Types = []Type{CPU, Memory, Connections, Locks}

// Trend is the direction of recent usage.
type Trend string

const (
	Rising  Trend = "RISING"
	Falling Trend = "FALLING"
	Stable  Trend = "STABLE"
)

// Usage is the derived view of one resource dimension. It is computed
// from retained snapshots and never stored independently.
type Usage struct {
	Type                Type       `json:"resource_type"`
	UsagePercent        float64    `json:"usage_percent"`
	Trend               Trend      `json:"trend"`
	PredictedExhaustion *time.Time `json:"predicted_exhaustion_at,omitempty"`
}

// Tracker computes usage and trends over a metrics ring.
type Tracker struct {
	// Window is how many recent snapshots feed the trend slope.
	Window int
	// NoiseBand is the slope magnitude (percent per minute) below which
	// the trend reads STABLE, to avoid flapping.
	NoiseBand float64
	// Horizon bounds the exhaustion forecast.
	Horizon time.Duration
	// MaxConnections converts the active-session count to a percentage.
	MaxConnections int
}

// NewTracker returns a tracker with the documented defaults.
func NewTracker() *Tracker {
	return &Tracker{
		Window:         5,
		NoiseBand:      0.5,
		Horizon:        24 * time.Hour,
		MaxConnections: 1000,
	}
}

// Track derives one Usage per resource type from the retained history.
func (t *Tracker) Track(ring *Ring) []Usage {
	history := ring.Snapshots()
	usages := make([]Usage, 0, len(Types))
	for _, rt := range Types {
		usages = append(usages, t.track(rt, history))
	}
	return usages
}

func (t *Tracker) track(rt Type, history []ras.ClusterMetrics) Usage {
	u := Usage{Type: rt, Trend: Stable}
	if len(history) == 0 {
		return u
	}

	u.UsagePercent = t.percentOf(rt, history[len(history)-1])

	// Never extrapolate from fewer than 2 snapshots.
	if len(history) < 2 {
		return u
	}

	window := history
	if t.Window > 1 && len(history) > t.Window {
		window = history[len(history)-t.Window:]
	}

	slope := slopePerMinute(rt, window, t)
	switch {
	case slope > t.NoiseBand:
		u.Trend = Rising
	case slope < -t.NoiseBand:
		u.Trend = Falling
	}

	if u.Trend == Rising {
		if eta, ok := t.forecast(u.UsagePercent, slope, window[len(window)-1].CapturedAt); ok {
			u.PredictedExhaustion = &eta
		}
	}
	return u
}

func (t *Tracker) percentOf(rt Type, m ras.ClusterMetrics) float64 {
	switch rt {
	case CPU:
		return m.CPUPercent
	case Memory:
		return m.MemoryPercent
	case Connections:
		if t.MaxConnections <= 0 {
			return 0
		}
		return float64(m.ActiveSessions) / float64(t.MaxConnections) * 100
	case Locks:
		if m.ActiveSessions == 0 {
			return 0
		}
		return float64(m.LockedSessions) / float64(m.ActiveSessions) * 100
	}
	return 0
}

// slopePerMinute fits a least-squares line through (minutes, percent)
// points of the window.
func slopePerMinute(rt Type, window []ras.ClusterMetrics, t *Tracker) float64 {
	n := float64(len(window))
	origin := window[0].CapturedAt

	var sumX, sumY, sumXY, sumXX float64
	for i := range window {
		x := window[i].CapturedAt.Sub(origin).Minutes()
		y := t.percentOf(rt, window[i])
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// forecast extrapolates a rising slope and returns the time usage would
// cross 100%, when that lands within the horizon.
func (t *Tracker) forecast(current, slopePerMin float64, lastCapture time.Time) (time.Time, bool) {
	if slopePerMin <= 0 || current >= 100 {
		return time.Time{}, false
	}
	minutes := (100 - current) / slopePerMin
	eta := lastCapture.Add(time.Duration(minutes * float64(time.Minute)))
	if t.Horizon > 0 && eta.After(lastCapture.Add(t.Horizon)) {
		return time.Time{}, false
	}
	return eta, true
}
