// Package alerts converts resource and session anomalies into
// prioritized, deduplicated alerts.
package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SandersNeo/perfdiag/src/ras"
	"github.com/SandersNeo/perfdiag/src/resource"
	"github.com/google/uuid"
)

// Severity orders alerts; higher first.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityWarning:
		return "WARNING"
	default:
		return "INFO"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Alert is one raised condition. The triggering usage figure is kept on
// the alert so it stays traceable to the snapshot that produced it.
type Alert struct {
	ID           string        `json:"id"`
	Severity     Severity      `json:"severity"`
	Message      string        `json:"message"`
	ResourceType resource.Type `json:"resource_type"`
	UsagePercent float64       `json:"usage_percent"`
	CreatedAt    time.Time     `json:"created_at"`
	Acknowledged bool          `json:"acknowledged"`
}

// ShouldNotify reports whether the alert warrants a notification:
// unacknowledged and WARNING or above.
func (a *Alert) ShouldNotify() bool {
	return !a.Acknowledged && a.Severity >= SeverityWarning
}

type dedupKey struct {
	resourceType resource.Type
	severity     Severity
}

// Thresholds hold the per-resource warning levels. Usage at or above the
// warning level raises WARNING; at or above critical raises CRITICAL.
type Thresholds struct {
	Warning  map[resource.Type]float64
	Critical map[resource.Type]float64
}

// DefaultThresholds mirror the documented configuration defaults with
// critical pinned at 95%.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning: map[resource.Type]float64{
			resource.CPU:         80,
			resource.Memory:      80,
			resource.Connections: 90,
			resource.Locks:       25,
		},
		Critical: map[resource.Type]float64{
			resource.CPU:         95,
			resource.Memory:      95,
			resource.Connections: 95,
			resource.Locks:       50,
		},
	}
}

// Manager evaluates anomalies and stores raised alerts. The cooldown
// table keyed by (resource type, severity) suppresses repeats within the
// window; entries are evicted lazily on evaluation.
type Manager struct {
	mu        sync.Mutex
	cooldown  time.Duration
	lastFired map[dedupKey]time.Time
	alerts    []Alert

	Thresholds Thresholds
	// Retention bounds how long stored alerts are kept; acknowledged
	// alerts and alerts past retention are dropped on evaluation so the
	// store cannot grow without bound on a long-running daemon.
	Retention time.Duration
	// Now is overridable for tests.
	Now func() time.Time
}

// NewManager creates a Manager with the given cooldown window.
func NewManager(cooldown time.Duration) *Manager {
	return &Manager{
		cooldown:   cooldown,
		lastFired:  make(map[dedupKey]time.Time),
		Thresholds: DefaultThresholds(),
		Retention:  24 * time.Hour,
		Now:        time.Now,
	}
}

// Evaluate runs one alert pass over resource usages and problematic
// sessions, returning only the newly raised alerts in priority order.
func (m *Manager) Evaluate(usages []resource.Usage, problems []ras.Problem) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	m.evict(now)

	var raised []Alert
	for _, u := range usages {
		severity, breached := m.classify(u)
		if !breached {
			continue
		}
		if a, ok := m.raise(now, u.Type, severity, u.UsagePercent, usageMessage(u, severity)); ok {
			raised = append(raised, a)
		}
	}

	for _, p := range problems {
		if a, ok := m.raise(now, resource.Locks, SeverityWarning, 0,
			fmt.Sprintf("problematic session %s: %s", p.Session.SessionID, p.Reason)); ok {
			raised = append(raised, a)
		}
	}

	sortAlerts(raised)
	return raised
}

func (m *Manager) classify(u resource.Usage) (Severity, bool) {
	if limit, ok := m.Thresholds.Critical[u.Type]; ok && u.UsagePercent >= limit {
		return SeverityCritical, true
	}
	if limit, ok := m.Thresholds.Warning[u.Type]; ok && u.UsagePercent >= limit {
		return SeverityWarning, true
	}
	// A rising trend with a bounded exhaustion forecast is itself worth
	// an advance warning.
	if u.Trend == resource.Rising && u.PredictedExhaustion != nil {
		return SeverityWarning, true
	}
	return SeverityInfo, false
}

// raise stores a new alert unless the same (resource, severity) pair
// fired within the cooldown window.
func (m *Manager) raise(now time.Time, rt resource.Type, severity Severity, usage float64, message string) (Alert, bool) {
	key := dedupKey{resourceType: rt, severity: severity}
	if fired, ok := m.lastFired[key]; ok && now.Sub(fired) < m.cooldown {
		return Alert{}, false
	}
	m.lastFired[key] = now

	alert := Alert{
		ID:           uuid.NewString(),
		Severity:     severity,
		Message:      message,
		ResourceType: rt,
		UsagePercent: usage,
		CreatedAt:    now,
	}
	m.alerts = append(m.alerts, alert)
	return alert, true
}

func (m *Manager) evict(now time.Time) {
	for key, fired := range m.lastFired {
		if now.Sub(fired) >= m.cooldown {
			delete(m.lastFired, key)
		}
	}

	kept := m.alerts[:0]
	for i := range m.alerts {
		a := m.alerts[i]
		if a.Acknowledged {
			continue
		}
		if m.Retention > 0 && now.Sub(a.CreatedAt) >= m.Retention {
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
}

// Active returns all stored alerts in priority order.
func (m *Manager) Active() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	sortAlerts(out)
	return out
}

// Pending returns the alerts that warrant a notification.
func (m *Manager) Pending() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for i := range m.alerts {
		if m.alerts[i].ShouldNotify() {
			out = append(out, m.alerts[i])
		}
	}
	sortAlerts(out)
	return out
}

// Acknowledge marks the alert with the given id.
func (m *Manager) Acknowledge(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acknowledged = true
			return true
		}
	}
	return false
}

// sortAlerts orders by severity descending, then usage percent
// descending; stable so equal alerts keep evaluation order.
func sortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity != alerts[j].Severity {
			return alerts[i].Severity > alerts[j].Severity
		}
		return alerts[i].UsagePercent > alerts[j].UsagePercent
	})
}

func usageMessage(u resource.Usage, severity Severity) string {
	msg := fmt.Sprintf("%s usage at %.1f%%", u.Type, u.UsagePercent)
	if u.PredictedExhaustion != nil {
		msg += fmt.Sprintf(", projected to exhaust at %s", u.PredictedExhaustion.Format(time.RFC3339))
	}
	return msg
}
