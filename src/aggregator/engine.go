// Package aggregator combines log analysis, cluster monitoring and SQL
// inspection into a single periodic health report.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SandersNeo/perfdiag/src/alerts"
	"github.com/SandersNeo/perfdiag/src/config"
	"github.com/SandersNeo/perfdiag/src/perfanalysis"
	"github.com/SandersNeo/perfdiag/src/ras"
	"github.com/SandersNeo/perfdiag/src/resource"
	"github.com/SandersNeo/perfdiag/src/sqlanalysis"
	"github.com/SandersNeo/perfdiag/src/sqlrewrite"
	"github.com/SandersNeo/perfdiag/src/techlog"
)

// Engine owns the analyzers and their shared state. One Engine serves
// both the periodic loop and the HTTP handlers; its methods are safe
// for concurrent use.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	parser          *techlog.Parser
	perf            *perfanalysis.Analyzer
	source          ras.SessionSource
	sessionAnalyzer *ras.SessionAnalyzer
	ring            *resource.Ring
	tracker         *resource.Tracker
	alertManager    *alerts.Manager
	sqlAnalyzer     *sqlanalysis.Analyzer
	rewriter        *sqlrewrite.Rewriter

	mu            sync.Mutex
	logPaths      []string
	sqlQueue      []string
	priorSessions []ras.Session
	clusterID     string
	lastReport    *HealthReport
}

// NewEngine builds an engine from the configuration. The session source
// abstracts where cluster data comes from so tests can substitute one.
func NewEngine(cfg *config.Config, source ras.SessionSource, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var catalog *sqlanalysis.Catalog
	if cfg.SQL.CatalogPath != "" {
		var err error
		catalog, err = sqlanalysis.LoadCatalog(cfg.SQL.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema catalogue: %w", err)
		}
	}

	perf := perfanalysis.NewAnalyzer()
	perf.SlowThresholdMS = cfg.TechLog.SlowQueryThresholdMS
	perf.LockThresholdMS = cfg.TechLog.LockThresholdMS
	perf.BenignExceptions = cfg.TechLog.BenignExceptions
	perf.TopIssues = cfg.TechLog.TopIssues

	sessionAnalyzer := ras.NewSessionAnalyzer()
	sessionAnalyzer.TopN = cfg.RAS.TopSessions
	sessionAnalyzer.MemoryLimitBytes = cfg.RAS.SessionMemoryLimitMB * 1024 * 1024
	sessionAnalyzer.BlockedFor = time.Duration(cfg.RAS.BlockedSessionSeconds) * time.Second

	tracker := resource.NewTracker()
	tracker.Window = cfg.RAS.TrendWindow
	tracker.Horizon = time.Duration(cfg.RAS.ForecastHorizonHours) * time.Hour
	tracker.MaxConnections = cfg.RAS.MaxConnections

	manager := alerts.NewManager(cfg.AlertCooldown())
	manager.Thresholds.Warning[resource.CPU] = cfg.RAS.CPUThresholdPercent
	manager.Thresholds.Warning[resource.Memory] = cfg.RAS.MemoryThresholdPercent
	manager.Thresholds.Warning[resource.Connections] = cfg.RAS.ConnectionThresholdPercent

	rewriter := sqlrewrite.NewRewriter(catalog)
	rewriter.MaxSpeedup = cfg.SQL.MaxSpeedup

	return &Engine{
		cfg:             cfg,
		logger:          logger,
		parser:          &techlog.Parser{},
		perf:            perf,
		source:          source,
		sessionAnalyzer: sessionAnalyzer,
		ring:            resource.NewRing(cfg.RAS.MetricsHistorySize),
		tracker:         tracker,
		alertManager:    manager,
		sqlAnalyzer:     &sqlanalysis.Analyzer{Catalog: catalog},
		rewriter:        rewriter,
	}, nil
}

// SetLogPaths replaces the tech-log inputs scanned each cycle.
func (e *Engine) SetLogPaths(paths ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logPaths = append([]string(nil), paths...)
}

// EnqueueSQL queues a query for analysis on the next cycle.
func (e *Engine) EnqueueSQL(query string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sqlQueue = append(e.sqlQueue, query)
}

// AnalyzeLogs parses and scores the given tech-log inputs immediately,
// outside the cycle.
func (e *Engine) AnalyzeLogs(ctx context.Context, paths ...string) (*perfanalysis.Result, error) {
	batch, err := e.parser.Parse(ctx, paths...)
	if err != nil {
		return nil, err
	}
	return e.perf.Analyze(batch), nil
}

// AnalyzeSQL runs the analyzer on one query immediately.
func (e *Engine) AnalyzeSQL(query string) *sqlanalysis.Analysis {
	return e.sqlAnalyzer.Analyze(query)
}

// OptimizeSQL runs the rewriter on one query immediately.
func (e *Engine) OptimizeSQL(query string) *sqlrewrite.Optimized {
	return e.rewriter.Rewrite(query)
}

// Source exposes the configured session source for callers that need
// to poll it directly.
func (e *Engine) Source() ras.SessionSource {
	return e.source
}

// ClusterID returns the identity recorded by the latest successful
// poll, or empty before one.
func (e *Engine) ClusterID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clusterID
}

// ClusterInfo proxies the session source.
func (e *Engine) ClusterInfo(ctx context.Context) (ras.ClusterInfo, error) {
	info, err := e.source.ClusterInfo(ctx)
	if err != nil {
		return ras.ClusterInfo{}, err
	}
	e.mu.Lock()
	e.clusterID = info.ClusterID
	e.mu.Unlock()
	return info, nil
}

// PollSessions returns the current session list from the source.
func (e *Engine) PollSessions(ctx context.Context) ([]ras.Session, error) {
	sessions, _, _, err := e.source.Sessions(ctx)
	return sessions, err
}

// AnalyzeSessions polls the source and screens the result against the
// prior poll.
func (e *Engine) AnalyzeSessions(ctx context.Context) (*ras.Report, error) {
	sessions, _, _, err := e.source.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	prior := e.priorSessions
	e.priorSessions = sessions
	e.mu.Unlock()
	return e.sessionAnalyzer.Analyze(sessions, prior, time.Now()), nil
}

// EvaluateAlerts runs the cluster pipeline once, outside the cycle,
// and returns only the newly raised alerts.
func (e *Engine) EvaluateAlerts(ctx context.Context) ([]alerts.Alert, error) {
	report := e.runClusterUnit(ctx)
	if report.Degraded {
		return nil, errors.New(report.Error)
	}
	return report.Alerts, nil
}

// ActiveAlerts returns the unacknowledged notifiable alerts.
func (e *Engine) ActiveAlerts() []alerts.Alert {
	return e.alertManager.Pending()
}

// AcknowledgeAlert marks one alert as handled.
func (e *Engine) AcknowledgeAlert(id string) bool {
	return e.alertManager.Acknowledge(id)
}

// LastReport returns the report from the most recent completed cycle,
// or nil before the first one.
func (e *Engine) LastReport() *HealthReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

// RunCycle executes one aggregation cycle. The three analysis units run
// concurrently, each under its own timeout; a unit that fails or times
// out marks its sub-report degraded instead of failing the cycle.
func (e *Engine) RunCycle(ctx context.Context) *HealthReport {
	timeout := e.cfg.AnalyzerTimeout()

	e.mu.Lock()
	paths := append([]string(nil), e.logPaths...)
	queued := e.sqlQueue
	e.sqlQueue = nil
	e.mu.Unlock()

	var (
		wg      sync.WaitGroup
		log     LogReport
		cluster ClusterReport
		sql     SQLReport
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		unitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		log = e.runLogUnit(unitCtx, paths)
	}()
	go func() {
		defer wg.Done()
		unitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		cluster = e.runClusterUnit(unitCtx)
	}()
	go func() {
		defer wg.Done()
		unitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		sql = e.runSQLUnit(unitCtx, queued)
	}()
	wg.Wait()

	report := e.compose(log, cluster, sql)

	e.mu.Lock()
	e.lastReport = report
	e.mu.Unlock()

	e.logger.Info("cycle complete",
		"score", report.Score,
		"status", string(report.Status),
		"critical_issues", report.CriticalIssues,
		"degraded", report.Degraded)
	return report
}

// Loop runs cycles at the configured interval until the context ends.
// The first cycle runs immediately.
func (e *Engine) Loop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CycleInterval())
	defer ticker.Stop()

	e.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

func (e *Engine) runLogUnit(ctx context.Context, paths []string) LogReport {
	if len(paths) == 0 {
		return LogReport{}
	}
	result, err := e.AnalyzeLogs(ctx, paths...)
	if err != nil {
		e.logger.Warn("log analysis failed", "error", err)
		return LogReport{Degraded: true, Error: err.Error()}
	}
	return LogReport{Result: result}
}

func (e *Engine) runClusterUnit(ctx context.Context) ClusterReport {
	info, err := e.source.ClusterInfo(ctx)
	if err != nil {
		e.logger.Warn("cluster poll failed", "error", err)
		return ClusterReport{Degraded: true, Error: err.Error(), Status: ras.StatusUnknown}
	}
	e.mu.Lock()
	e.clusterID = info.ClusterID
	e.mu.Unlock()

	sessions, cpu, memory, err := e.source.Sessions(ctx)
	if err != nil {
		e.logger.Warn("session poll failed", "error", err)
		return ClusterReport{Degraded: true, Error: err.Error(), Status: ras.StatusUnknown}
	}

	now := time.Now()
	metrics := ras.MetricsFromSessions(info.ClusterID, cpu, memory, sessions, now)
	e.ring.Append(metrics)

	e.mu.Lock()
	prior := e.priorSessions
	e.priorSessions = sessions
	e.mu.Unlock()

	sessionReport := e.sessionAnalyzer.Analyze(sessions, prior, now)
	usages := e.tracker.Track(e.ring)
	raised := e.alertManager.Evaluate(usages, sessionReport.Problematic)

	return ClusterReport{
		Status:   ras.ClassifyHealth(metrics, e.cfg.RAS.CPUThresholdPercent, e.cfg.RAS.MemoryThresholdPercent),
		Metrics:  &metrics,
		Sessions: sessionReport,
		Usages:   usages,
		Alerts:   raised,
	}
}

func (e *Engine) runSQLUnit(ctx context.Context, queued []string) SQLReport {
	var report SQLReport
	for _, q := range queued {
		if ctx.Err() != nil {
			e.logger.Warn("sql analysis cut short", "error", ctx.Err(), "remaining", len(queued)-len(report.Analyses))
			report.Degraded = true
			report.Error = ctx.Err().Error()
			break
		}
		report.Analyses = append(report.Analyses, e.sqlAnalyzer.Analyze(q))
		report.Rewrites = append(report.Rewrites, e.rewriter.Rewrite(q))
	}
	return report
}

// compose assembles a full report from the three sub-reports.
func (e *Engine) compose(log LogReport, cluster ClusterReport, sql SQLReport) *HealthReport {
	s := scorer{
		thresholds: map[resource.Type]float64{
			resource.CPU:         e.cfg.RAS.CPUThresholdPercent,
			resource.Memory:      e.cfg.RAS.MemoryThresholdPercent,
			resource.Connections: e.cfg.RAS.ConnectionThresholdPercent,
		},
	}
	copy(s.weights[:], e.cfg.Aggregate.Weights)

	score := s.combine(log, cluster, sql)

	e.mu.Lock()
	clusterID := e.clusterID
	e.mu.Unlock()

	return &HealthReport{
		GeneratedAt:    time.Now().UTC(),
		ClusterID:      clusterID,
		Score:          score,
		Status:         statusForScore(score),
		Degraded:       log.Degraded || cluster.Degraded || sql.Degraded,
		CriticalIssues: countCritical(log, cluster),
		TopRecommendations: interleave(e.cfg.Aggregate.TopRecommendations,
			logRecommendations(log),
			clusterRecommendations(cluster),
			sqlRecommendations(sql)),
		Log:     log,
		Cluster: cluster,
		SQL:     sql,
	}
}

func logRecommendations(log LogReport) []string {
	if log.Result == nil {
		return nil
	}
	return log.Result.Recommendations
}

func clusterRecommendations(cluster ClusterReport) []string {
	var out []string
	for i := range cluster.Alerts {
		out = append(out, cluster.Alerts[i].Message)
	}
	if cluster.Sessions != nil {
		for _, p := range cluster.Sessions.Problematic {
			out = append(out, fmt.Sprintf("Investigate session %s: %s", p.Session.SessionID, p.Reason))
		}
	}
	return out
}

func sqlRecommendations(sql SQLReport) []string {
	var out []string
	for _, a := range sql.Analyses {
		for _, f := range a.Issues {
			out = append(out, f.Description)
		}
		for _, mi := range a.MissingIndexes {
			out = append(out, fmt.Sprintf("Consider an index on %s.%s", mi.Table, mi.Column))
		}
	}
	for _, r := range sql.Rewrites {
		for _, imp := range r.Improvements {
			out = append(out, imp.Description)
		}
	}
	return out
}
