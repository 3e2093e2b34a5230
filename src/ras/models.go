// Package ras contains the cluster monitor: clients for the remote
// administration endpoint, live session retrieval and session analysis.
package ras

import "time"

// HealthStatus classifies a cluster snapshot.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusCritical HealthStatus = "critical"
	StatusUnknown  HealthStatus = "unknown"
)

// ClusterInfo identifies a monitored cluster.
type ClusterInfo struct {
	ClusterID    string       `json:"cluster_id"`
	Name         string       `json:"name"`
	Host         string       `json:"host"`
	Port         int          `json:"port"`
	AgentVersion string       `json:"agent_version"`
	Status       HealthStatus `json:"status"`
}

// SessionState is the lifecycle state reported for a session.
type SessionState string

const (
	SessionActive     SessionState = "ACTIVE"
	SessionSleeping   SessionState = "SLEEPING"
	SessionBlocked    SessionState = "BLOCKED"
	SessionTerminated SessionState = "TERMINATED"
)

// Session is one live session as reported by a poll. A session missing
// from the latest poll is considered terminated.
type Session struct {
	SessionID   string       `json:"session_id"`
	State       SessionState `json:"state"`
	CPUTimeMS   int64        `json:"cpu_time_ms"`
	MemoryBytes int64        `json:"memory_bytes"`
	StartedAt   time.Time    `json:"started_at"`
	User        string       `json:"user,omitempty"`
	Application string       `json:"application,omitempty"`
}

// ClusterMetrics is one metrics snapshot derived from a poll.
type ClusterMetrics struct {
	ClusterID      string    `json:"cluster_id"`
	CapturedAt     time.Time `json:"captured_at"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	ActiveSessions int       `json:"active_sessions"`
	LockedSessions int       `json:"locked_sessions"`
}

// MetricsFromSessions derives a snapshot from a session list plus the
// cpu/memory figures the endpoint reports alongside it.
func MetricsFromSessions(clusterID string, cpu, memory float64, sessions []Session, capturedAt time.Time) ClusterMetrics {
	m := ClusterMetrics{
		ClusterID:     clusterID,
		CapturedAt:    capturedAt,
		CPUPercent:    cpu,
		MemoryPercent: memory,
	}
	for i := range sessions {
		switch sessions[i].State {
		case SessionBlocked:
			m.LockedSessions++
			m.ActiveSessions++
		case SessionActive:
			m.ActiveSessions++
		}
	}
	return m
}
