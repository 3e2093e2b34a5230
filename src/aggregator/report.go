package aggregator

import (
	"time"

	"github.com/SandersNeo/perfdiag/src/alerts"
	"github.com/SandersNeo/perfdiag/src/perfanalysis"
	"github.com/SandersNeo/perfdiag/src/ras"
	"github.com/SandersNeo/perfdiag/src/resource"
	"github.com/SandersNeo/perfdiag/src/sqlanalysis"
	"github.com/SandersNeo/perfdiag/src/sqlrewrite"
)

// Status is the overall health classification.
type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusDegraded Status = "DEGRADED"
	StatusCritical Status = "CRITICAL"
)

// statusForScore applies the documented boundaries: >=80 healthy,
// 50-79 degraded, <50 critical.
func statusForScore(score int) Status {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 50:
		return StatusDegraded
	default:
		return StatusCritical
	}
}

// LogReport is the tech-log sub-report of one cycle.
type LogReport struct {
	Degraded bool                 `json:"degraded"`
	Error    string               `json:"error,omitempty"`
	Result   *perfanalysis.Result `json:"result,omitempty"`
}

// ClusterReport is the monitoring sub-report of one cycle.
type ClusterReport struct {
	Degraded bool                `json:"degraded"`
	Error    string              `json:"error,omitempty"`
	Status   ras.HealthStatus    `json:"status"`
	Metrics  *ras.ClusterMetrics `json:"metrics,omitempty"`
	Sessions *ras.Report         `json:"sessions,omitempty"`
	Usages   []resource.Usage    `json:"resources,omitempty"`
	Alerts   []alerts.Alert      `json:"alerts,omitempty"`
}

// SQLReport is the ad-hoc query sub-report of one cycle.
type SQLReport struct {
	Degraded bool                    `json:"degraded"`
	Error    string                  `json:"error,omitempty"`
	Analyses []*sqlanalysis.Analysis `json:"analyses,omitempty"`
	Rewrites []*sqlrewrite.Optimized `json:"rewrites,omitempty"`
}

// HealthReport is the composed outcome of one aggregation cycle. It is
// built fresh per cycle and replaced wholesale, never mutated.
type HealthReport struct {
	GeneratedAt        time.Time     `json:"generated_at"`
	ClusterID          string        `json:"cluster_id,omitempty"`
	Score              int           `json:"score"`
	Status             Status        `json:"status"`
	Degraded           bool          `json:"degraded"`
	CriticalIssues     int           `json:"critical_issues"`
	TopRecommendations []string      `json:"top_recommendations"`
	Log                LogReport     `json:"log"`
	Cluster            ClusterReport `json:"cluster"`
	SQL                SQLReport     `json:"sql"`
}

// scorer combines the three analyzer scores with configured weights.
type scorer struct {
	weights    [3]float64
	thresholds map[resource.Type]float64
}

// performanceScore reads the log analyzer's score; a missing sub-result
// contributes the neutral 100.
func (s scorer) performanceScore(log LogReport) float64 {
	if log.Result == nil {
		return 100
	}
	return float64(log.Result.Score)
}

// clusterScore is 100 minus the total overage of resource usage above
// the configured thresholds, floored at 0.
func (s scorer) clusterScore(cluster ClusterReport) float64 {
	score := 100.0
	for _, u := range cluster.Usages {
		threshold, ok := s.thresholds[u.Type]
		if !ok {
			continue
		}
		if u.UsagePercent > threshold {
			score -= u.UsagePercent - threshold
		}
	}
	if cluster.Status == ras.StatusUnknown {
		// An unreachable cluster cannot claim full health.
		score -= 20
	}
	if score < 0 {
		score = 0
	}
	return score
}

// sqlScore penalizes by query complexity, averaged over the cycle's
// analyses; no queries means a neutral 100.
func (s scorer) sqlScore(sql SQLReport) float64 {
	if len(sql.Analyses) == 0 {
		return 100
	}
	total := 0.0
	for _, a := range sql.Analyses {
		total += 100 - complexityPenalty(a.Complexity) - 5*float64(len(a.Issues))
	}
	avg := total / float64(len(sql.Analyses))
	if avg < 0 {
		avg = 0
	}
	return avg
}

func complexityPenalty(c sqlanalysis.Complexity) float64 {
	switch c {
	case sqlanalysis.Moderate:
		return 10
	case sqlanalysis.Complex:
		return 25
	case sqlanalysis.VeryComplex:
		return 40
	default:
		return 0
	}
}

// combine produces the weighted overall score, clamped to [0,100].
func (s scorer) combine(log LogReport, cluster ClusterReport, sql SQLReport) int {
	scores := [3]float64{
		s.performanceScore(log),
		s.clusterScore(cluster),
		s.sqlScore(sql),
	}
	var weighted, total float64
	for i, w := range s.weights {
		weighted += scores[i] * w
		total += w
	}
	if total == 0 {
		return 0
	}
	score := int(weighted/total + 0.5)
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// countCritical totals CRITICAL findings from the log and cluster
// sub-reports. SQL analysis grades complexity, not severity, so it
// contributes to the score but never to this count.
func countCritical(log LogReport, cluster ClusterReport) int {
	n := 0
	if log.Result != nil {
		for i := range log.Result.Issues {
			if log.Result.Issues[i].Severity == perfanalysis.SeverityCritical {
				n++
			}
		}
	}
	for i := range cluster.Alerts {
		if cluster.Alerts[i].Severity == alerts.SeverityCritical {
			n++
		}
	}
	return n
}

// interleave merges recommendation lists round-robin, deduplicating by
// message and capping at limit. Round-robin keeps one noisy analyzer
// from crowding out the others.
func interleave(limit int, lists ...[]string) []string {
	if limit <= 0 {
		limit = 10
	}
	seen := make(map[string]bool)
	var out []string
	for i := 0; ; i++ {
		advanced := false
		for _, list := range lists {
			if i >= len(list) {
				continue
			}
			advanced = true
			msg := list[i]
			if msg == "" || seen[msg] {
				continue
			}
			seen[msg] = true
			out = append(out, msg)
			if len(out) == limit {
				return out
			}
		}
		if !advanced {
			return out
		}
	}
}
