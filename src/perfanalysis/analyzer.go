// Package perfanalysis classifies parsed tech-log events into performance
// issues and computes the 0-100 performance score.
package perfanalysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/SandersNeo/perfdiag/src/techlog"
)

// IssueType identifies the kind of detected problem.
type IssueType string

const (
	IssueSlowQuery  IssueType = "SLOW_QUERY"
	IssueSlowMethod IssueType = "SLOW_METHOD"
	IssueLock       IssueType = "LOCK"
	IssueException  IssueType = "EXCEPTION"
)

// Severity orders issues; higher values are reported first.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	default:
		return "INFO"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// scoreWeight is the score penalty per issue at a given severity.
func (s Severity) scoreWeight() int {
	switch s {
	case SeverityCritical:
		return 20
	case SeverityError:
		return 10
	case SeverityWarning:
		return 3
	default:
		return 0
	}
}

// Issue is one detected problem. An Issue references the event that
// produced it and is never mutated after creation.
type Issue struct {
	Type        IssueType      `json:"issue_type"`
	Severity    Severity       `json:"severity"`
	Event       *techlog.Event `json:"-"`
	DurationMS  int64          `json:"duration_ms"`
	DetectedAt  time.Time      `json:"detected_at"`
	Description string         `json:"description"`
}

// Result is the outcome of analyzing one event batch.
type Result struct {
	EventsByType    map[techlog.EventType]int `json:"events_by_type"`
	MalformedLines  int                       `json:"malformed_lines"`
	Score           int                       `json:"performance_score"`
	Issues          []Issue                   `json:"issues"`
	Recommendations []string                  `json:"recommendations"`
}

// Analyzer applies threshold rules to event batches.
type Analyzer struct {
	// SlowThresholdMS flags DB and service calls. Calls at 10x the
	// threshold escalate to CRITICAL.
	SlowThresholdMS int64
	// LockThresholdMS flags lock waits.
	LockThresholdMS int64
	// BenignExceptions downgrades matching exception descriptions to INFO.
	BenignExceptions []string
	// TopIssues caps the recommendation list.
	TopIssues int
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewAnalyzer returns an Analyzer with the documented default thresholds.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		SlowThresholdMS: 1000,
		LockThresholdMS: 5000,
		TopIssues:       10,
	}
}

// Analyze runs a full pass over the batch. The input is already
// materialized because scoring needs complete counts.
func (a *Analyzer) Analyze(batch *techlog.Batch) *Result {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	detectedAt := now()

	res := &Result{
		EventsByType:   batch.CountByType(),
		MalformedLines: batch.Malformed,
	}

	for i := range batch.Events {
		ev := &batch.Events[i]
		if issue, ok := a.classify(ev, detectedAt); ok {
			res.Issues = append(res.Issues, issue)
		}
	}

	res.Score = score(res.Issues)
	res.Recommendations = a.recommend(res.Issues)
	return res
}

func (a *Analyzer) classify(ev *techlog.Event, detectedAt time.Time) (Issue, bool) {
	switch ev.Type {
	case techlog.EventDBCall, techlog.EventServiceCall:
		if ev.DurationMS <= a.SlowThresholdMS {
			return Issue{}, false
		}
		issueType := IssueSlowQuery
		noun := "query"
		if ev.Type == techlog.EventServiceCall {
			issueType = IssueSlowMethod
			noun = "method call"
		}
		severity := SeverityError
		if ev.DurationMS >= 10*a.SlowThresholdMS {
			severity = SeverityCritical
		}
		return Issue{
			Type:        issueType,
			Severity:    severity,
			Event:       ev,
			DurationMS:  ev.DurationMS,
			DetectedAt:  detectedAt,
			Description: fmt.Sprintf("slow %s: %s took %d ms (threshold %d ms)", noun, ev.Name, ev.DurationMS, a.SlowThresholdMS),
		}, true
	case techlog.EventLock:
		if ev.DurationMS <= a.LockThresholdMS {
			return Issue{}, false
		}
		return Issue{
			Type:        IssueLock,
			Severity:    SeverityWarning,
			Event:       ev,
			DurationMS:  ev.DurationMS,
			DetectedAt:  detectedAt,
			Description: fmt.Sprintf("lock wait: %s held for %d ms (threshold %d ms)", ev.Name, ev.DurationMS, a.LockThresholdMS),
		}, true
	case techlog.EventException:
		descr, _ := ev.Get("Descr")
		severity := SeverityError
		if a.isBenign(descr) {
			severity = SeverityInfo
		}
		msg := descr
		if msg == "" {
			msg = "no description"
		}
		return Issue{
			Type:        IssueException,
			Severity:    severity,
			Event:       ev,
			DurationMS:  ev.DurationMS,
			DetectedAt:  detectedAt,
			Description: fmt.Sprintf("exception: %s", firstLine(msg)),
		}, true
	}
	return Issue{}, false
}

func (a *Analyzer) isBenign(descr string) bool {
	for _, pattern := range a.BenignExceptions {
		if pattern != "" && strings.Contains(descr, pattern) {
			return true
		}
	}
	return false
}

// score starts at 100 and subtracts the severity weight per issue,
// floored at 0.
func score(issues []Issue) int {
	s := 100
	for i := range issues {
		s -= issues[i].Severity.scoreWeight()
	}
	if s < 0 {
		s = 0
	}
	return s
}

// recommend generates deterministic recommendations from the top issues
// ordered by severity then duration; sorting is stable so ties keep the
// original event order.
func (a *Analyzer) recommend(issues []Issue) []string {
	ranked := make([]Issue, len(issues))
	copy(ranked, issues)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Severity != ranked[j].Severity {
			return ranked[i].Severity > ranked[j].Severity
		}
		return ranked[i].DurationMS > ranked[j].DurationMS
	})

	limit := a.TopIssues
	if limit <= 0 {
		limit = 10
	}
	if limit > len(ranked) {
		limit = len(ranked)
	}

	recs := make([]string, 0, limit)
	for _, issue := range ranked[:limit] {
		recs = append(recs, recommendation(issue))
	}
	return recs
}

func recommendation(issue Issue) string {
	switch issue.Type {
	case IssueSlowQuery:
		ctx := eventContext(issue.Event)
		return fmt.Sprintf("Review the %d ms query%s: check indexes and the query plan.", issue.DurationMS, ctx)
	case IssueSlowMethod:
		ctx := eventContext(issue.Event)
		return fmt.Sprintf("Profile the %d ms server call%s: consider caching or moving work off the request path.", issue.DurationMS, ctx)
	case IssueLock:
		return fmt.Sprintf("Shorten transactions around the %d ms lock wait; review lock granularity.", issue.DurationMS)
	case IssueException:
		return fmt.Sprintf("Investigate %s", issue.Description)
	}
	return issue.Description
}

func eventContext(ev *techlog.Event) string {
	if ev == nil {
		return ""
	}
	if ctx, ok := ev.Get("Context"); ok && ctx != "" {
		return " in " + firstLine(ctx)
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
