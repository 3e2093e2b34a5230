package ras

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blang/semver/v4"
	"github.com/go-resty/resty/v2"
)

var (
	// ErrClusterUnreachable is surfaced after the retry budget is spent.
	ErrClusterUnreachable = errors.New("cluster administration endpoint unreachable")
	// ErrAgentTooOld is returned when the agent version is below the
	// configured minimum.
	ErrAgentTooOld = errors.New("administration agent version below supported minimum")
)

// SessionSource provides cluster identity and the live session list.
// Implementations exist for the HTTP administration endpoint, a SQL
// system-view connection and the local host.
type SessionSource interface {
	ClusterInfo(ctx context.Context) (ClusterInfo, error)
	Sessions(ctx context.Context) ([]Session, float64, float64, error)
}

// Client polls a remote administration endpoint over HTTP.
type Client struct {
	http *resty.Client
	host string
	port int

	// MinAgentVersion gates ClusterInfo when non-empty.
	MinAgentVersion string

	attempts  int
	baseDelay time.Duration
	sleep     func(time.Duration)
}

var _ SessionSource = (*Client)(nil)

// NewClient builds a Client for host:port with 3 retry attempts and a
// 500 ms backoff base.
func NewClient(host string, port int) *Client {
	c := &Client{
		http:      resty.New().SetTimeout(10 * time.Second),
		host:      host,
		port:      port,
		attempts:  3,
		baseDelay: 500 * time.Millisecond,
		sleep:     time.Sleep,
	}
	c.http.SetBaseURL(fmt.Sprintf("http://%s:%d", host, port))
	return c
}

// clusterPayload mirrors the administration endpoint's cluster document.
type clusterPayload struct {
	ClusterID    string `json:"cluster_id"`
	Name         string `json:"name"`
	AgentVersion string `json:"agent_version"`
}

// sessionsPayload mirrors the session list document.
type sessionsPayload struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	Sessions      []Session `json:"sessions"`
}

// ClusterInfo fetches the cluster identity. Connection failures are
// retried with bounded exponential backoff before surfacing
// ErrClusterUnreachable.
func (c *Client) ClusterInfo(ctx context.Context) (ClusterInfo, error) {
	var payload clusterPayload
	err := c.withRetry(ctx, func() error {
		resp, err := c.http.R().SetContext(ctx).SetResult(&payload).Get("/api/v1/cluster")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("cluster endpoint returned %s", resp.Status())
		}
		return nil
	})
	if err != nil {
		return ClusterInfo{}, err
	}

	info := ClusterInfo{
		ClusterID:    payload.ClusterID,
		Name:         payload.Name,
		Host:         c.host,
		Port:         c.port,
		AgentVersion: payload.AgentVersion,
	}
	if err := c.checkAgentVersion(payload.AgentVersion); err != nil {
		return info, err
	}
	return info, nil
}

// Sessions fetches the live session list plus the reported cpu/memory
// percentages.
func (c *Client) Sessions(ctx context.Context) ([]Session, float64, float64, error) {
	var payload sessionsPayload
	err := c.withRetry(ctx, func() error {
		resp, err := c.http.R().SetContext(ctx).SetResult(&payload).Get("/api/v1/sessions")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("sessions endpoint returned %s", resp.Status())
		}
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return payload.Sessions, payload.CPUPercent, payload.MemoryPercent, nil
}

// withRetry runs operation up to the attempt budget, doubling the delay
// between attempts. The last error is wrapped in ErrClusterUnreachable.
func (c *Client) withRetry(ctx context.Context, operation func() error) error {
	delay := c.baseDelay
	var err error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			c.sleep(delay)
			delay *= 2
		}
		if err = operation(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrClusterUnreachable, err)
}

func (c *Client) checkAgentVersion(version string) error {
	if c.MinAgentVersion == "" || version == "" {
		return nil
	}
	minVer, err := semver.ParseTolerant(c.MinAgentVersion)
	if err != nil {
		return nil
	}
	got, err := semver.ParseTolerant(version)
	if err != nil {
		// Unparsable agent versions are reported but not fatal.
		return nil
	}
	if got.LT(minVer) {
		return fmt.Errorf("%w: have %s, need %s", ErrAgentTooOld, version, c.MinAgentVersion)
	}
	return nil
}

// ClassifyHealth maps a metrics snapshot onto a health status: healthy
// with no breached thresholds and no locked sessions, degraded with one
// breach, critical with more.
func ClassifyHealth(m ClusterMetrics, cpuThreshold, memThreshold float64) HealthStatus {
	breaches := 0
	if m.CPUPercent >= cpuThreshold {
		breaches++
	}
	if m.MemoryPercent >= memThreshold {
		breaches++
	}
	if m.LockedSessions > 0 {
		breaches++
	}
	switch {
	case breaches == 0:
		return StatusHealthy
	case breaches == 1:
		return StatusDegraded
	default:
		return StatusCritical
	}
}
