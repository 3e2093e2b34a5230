package aggregator

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

// ExportFormat names a supported health report encoding.
type ExportFormat string

const (
	FormatJSON       ExportFormat = "json"
	FormatPrometheus ExportFormat = "prometheus"
	FormatCSV        ExportFormat = "csv"
)

// ContentType returns the MIME type to serve the format with.
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatPrometheus:
		return "text/plain; version=0.0.4"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

// Export encodes the report in the requested format. The formatters are
// pure functions of the report so repeated exports of the same report
// are byte-identical.
func Export(report *HealthReport, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return exportJSON(report)
	case FormatPrometheus:
		return exportPrometheus(report), nil
	case FormatCSV:
		return exportCSV(report)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func exportJSON(report *HealthReport) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

func exportPrometheus(report *HealthReport) []byte {
	var buf bytes.Buffer

	writeMetric := func(name, help string, value string) {
		fmt.Fprintf(&buf, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&buf, "# TYPE %s gauge\n", name)
		fmt.Fprintf(&buf, "%s %s\n", name, value)
	}

	writeMetric("perfdiag_health_score", "Overall health score (0-100).",
		strconv.Itoa(report.Score))
	writeMetric("perfdiag_critical_issues", "Critical issues detected in the last cycle.",
		strconv.Itoa(report.CriticalIssues))
	writeMetric("perfdiag_degraded", "Whether any analysis unit was degraded (0 or 1).",
		boolGauge(report.Degraded))

	if report.Log.Result != nil {
		writeMetric("perfdiag_performance_score", "Tech-log performance score (0-100).",
			strconv.Itoa(report.Log.Result.Score))
		writeMetric("perfdiag_malformed_lines", "Malformed tech-log lines skipped in the last cycle.",
			strconv.Itoa(report.Log.Result.MalformedLines))
	}

	if len(report.Cluster.Usages) > 0 {
		name := "perfdiag_resource_usage_percent"
		fmt.Fprintf(&buf, "# HELP %s Resource usage by dimension.\n", name)
		fmt.Fprintf(&buf, "# TYPE %s gauge\n", name)
		for _, u := range report.Cluster.Usages {
			fmt.Fprintf(&buf, "%s{resource=%q} %s\n", name, string(u.Type),
				strconv.FormatFloat(u.UsagePercent, 'f', -1, 64))
		}
	}

	if m := report.Cluster.Metrics; m != nil {
		writeMetric("perfdiag_active_sessions", "Active sessions in the last poll.",
			strconv.Itoa(m.ActiveSessions))
		writeMetric("perfdiag_locked_sessions", "Locked sessions in the last poll.",
			strconv.Itoa(m.LockedSessions))
	}

	writeMetric("perfdiag_alerts_raised", "Alerts raised in the last cycle.",
		strconv.Itoa(len(report.Cluster.Alerts)))

	return buf.Bytes()
}

func boolGauge(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func exportCSV(report *HealthReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	records := [][]string{
		{"section", "metric", "value"},
		{"overall", "generated_at", report.GeneratedAt.Format("2006-01-02T15:04:05Z07:00")},
		{"overall", "score", strconv.Itoa(report.Score)},
		{"overall", "status", string(report.Status)},
		{"overall", "degraded", boolGauge(report.Degraded)},
		{"overall", "critical_issues", strconv.Itoa(report.CriticalIssues)},
	}
	if report.Log.Result != nil {
		records = append(records,
			[]string{"log", "performance_score", strconv.Itoa(report.Log.Result.Score)},
			[]string{"log", "malformed_lines", strconv.Itoa(report.Log.Result.MalformedLines)},
			[]string{"log", "issues", strconv.Itoa(len(report.Log.Result.Issues))},
		)
	}
	for _, u := range report.Cluster.Usages {
		records = append(records, []string{
			"cluster",
			"usage_percent_" + string(u.Type),
			strconv.FormatFloat(u.UsagePercent, 'f', 2, 64),
		})
	}
	records = append(records,
		[]string{"cluster", "alerts_raised", strconv.Itoa(len(report.Cluster.Alerts))},
		[]string{"sql", "queries_analyzed", strconv.Itoa(len(report.SQL.Analyses))},
	)
	for i, rec := range report.TopRecommendations {
		records = append(records, []string{"recommendation", strconv.Itoa(i + 1), rec})
	}

	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("failed to encode csv: %w", err)
	}
	return buf.Bytes(), nil
}
