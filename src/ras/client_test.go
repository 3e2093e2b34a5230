package ras

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, _ := strconv.Atoi(u.Port())

	client := NewClient(u.Hostname(), port)
	client.sleep = func(time.Duration) {} // no real backoff in tests
	return client, server
}

func TestClusterInfo(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/cluster", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(clusterPayload{
			ClusterID:    "prod-1",
			Name:         "production",
			AgentVersion: "11.2.0",
		})
	}))
	client.MinAgentVersion = "10.0.0"

	info, err := client.ClusterInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "prod-1", info.ClusterID)
	assert.Equal(t, "production", info.Name)
	assert.Equal(t, "11.2.0", info.AgentVersion)
}

func TestClusterInfo_AgentTooOld(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(clusterPayload{ClusterID: "prod-1", AgentVersion: "9.1.0"})
	}))
	client.MinAgentVersion = "10.0.0"

	_, err := client.ClusterInfo(context.Background())
	assert.ErrorIs(t, err, ErrAgentTooOld)
}

func TestClusterInfo_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(clusterPayload{ClusterID: "prod-1"})
	}))

	info, err := client.ClusterInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "prod-1", info.ClusterID)
}

func TestClusterInfo_Unreachable(t *testing.T) {
	calls := 0
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.ClusterInfo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClusterUnreachable)
	assert.Equal(t, 3, calls, "retry budget is 3 attempts")
}

func TestSessions(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/sessions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionsPayload{
			CPUPercent:    41.5,
			MemoryPercent: 72.0,
			Sessions: []Session{
				{SessionID: "1", State: SessionActive, CPUTimeMS: 5000},
				{SessionID: "2", State: SessionBlocked, CPUTimeMS: 100},
			},
		})
	}))

	sessions, cpu, memory, err := client.Sessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
	assert.Equal(t, 41.5, cpu)
	assert.Equal(t, 72.0, memory)
}

func TestMetricsFromSessions(t *testing.T) {
	capturedAt := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	sessions := []Session{
		{SessionID: "1", State: SessionActive},
		{SessionID: "2", State: SessionBlocked},
		{SessionID: "3", State: SessionSleeping},
	}

	m := MetricsFromSessions("prod-1", 50, 60, sessions, capturedAt)

	assert.Equal(t, "prod-1", m.ClusterID)
	assert.Equal(t, 2, m.ActiveSessions, "blocked sessions count as active")
	assert.Equal(t, 1, m.LockedSessions)
	assert.Equal(t, capturedAt, m.CapturedAt)
}

func TestClassifyHealth(t *testing.T) {
	testCases := []struct {
		name    string
		metrics ClusterMetrics
		want    HealthStatus
	}{
		{"all clear", ClusterMetrics{CPUPercent: 20, MemoryPercent: 30}, StatusHealthy},
		{"cpu breach only", ClusterMetrics{CPUPercent: 85, MemoryPercent: 30}, StatusDegraded},
		{"locked sessions only", ClusterMetrics{CPUPercent: 20, MemoryPercent: 30, LockedSessions: 2}, StatusDegraded},
		{"cpu and memory", ClusterMetrics{CPUPercent: 85, MemoryPercent: 90}, StatusCritical},
		{"everything on fire", ClusterMetrics{CPUPercent: 99, MemoryPercent: 97, LockedSessions: 5}, StatusCritical},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyHealth(tc.metrics, 80, 80))
		})
	}
}
