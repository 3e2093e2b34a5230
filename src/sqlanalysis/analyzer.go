// Package sqlanalysis parses SQL text defensively, detects anti-patterns,
// estimates relative cost and flags missing indexes.
//
// The analysis is lexical: no dialect grammar is assumed and malformed
// input degrades to fewer findings, never to an error.
package sqlanalysis

import (
	"regexp"
	"sort"
	"strings"
)

// Complexity buckets a query by its construct weight.
type Complexity string

const (
	Simple      Complexity = "SIMPLE"
	Moderate    Complexity = "MODERATE"
	Complex     Complexity = "COMPLEX"
	VeryComplex Complexity = "VERY_COMPLEX"
)

// Finding is one detected anti-pattern. Fragment records the matched
// text so the finding stays traceable to the input.
type Finding struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Fragment    string `json:"fragment,omitempty"`
}

// MissingIndex suggests an index on a predicate column absent from the
// catalogue's index list.
type MissingIndex struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Analysis is the result of analyzing one query.
type Analysis struct {
	QueryText      string         `json:"query_text"`
	Complexity     Complexity     `json:"complexity"`
	Tables         []string       `json:"tables"`
	JoinCount      int            `json:"join_count"`
	SubqueryCount  int            `json:"subquery_count"`
	AggregateCount int            `json:"aggregate_count"`
	Issues         []Finding      `json:"issues"`
	MissingIndexes []MissingIndex `json:"missing_indexes,omitempty"`
	EstimatedCost  float64        `json:"estimated_cost"`
}

// Analyzer detects anti-patterns against an optional schema catalogue.
type Analyzer struct {
	Catalog *Catalog
}

var (
	commentLinePattern  = regexp.MustCompile(`--[^\n]*`)
	commentBlockPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespacePattern   = regexp.MustCompile(`\s+`)

	selectStarPattern  = regexp.MustCompile(`(?i)SELECT\s+(?:\w+\s*\.\s*)?\*`)
	leadingLikePattern = regexp.MustCompile(`(?i)([\w.]+)\s+LIKE\s+'%`)
	notInSubPattern    = regexp.MustCompile(`(?i)[\w.]+\s+NOT\s+IN\s*\(\s*SELECT\b`)
	funcPredPattern    = regexp.MustCompile(`(?i)(?:WHERE|AND|OR)\s+\w+\s*\(\s*[\w.]+[^)]*\)\s*(?:=|<>|!=|<|>|<=|>=|LIKE)`)
	orderNoLimit       = regexp.MustCompile(`(?i)ORDER\s+BY\b`)
	limitPattern       = regexp.MustCompile(`(?i)\b(?:LIMIT\s+\d|TOP\s+\d|FETCH\s+FIRST)`)

	fromPattern = regexp.MustCompile(`(?i)\bFROM\s+([^()]+?)(?:\bWHERE\b|\bGROUP\b|\bORDER\b|\bHAVING\b|\bLIMIT\b|\bUNION\b|\bJOIN\b|$)`)
	joinPattern = regexp.MustCompile(`(?i)\bJOIN\s+([\w.\[\]"]+)`)
	aggPattern  = regexp.MustCompile(`(?i)\b(?:COUNT|SUM|AVG|MIN|MAX)\s*\(`)
	subPattern  = regexp.MustCompile(`(?i)\(\s*SELECT\b`)

	predicatePattern = regexp.MustCompile(`(?i)(?:WHERE|AND|OR|ON)\s+(?:(\w+)\.)?(\w+)\s*(?:=|<>|!=|<|>|<=|>=|\bLIKE\b|\bIN\b|\bBETWEEN\b)`)
	literalPattern   = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// Analyze runs the full lexical pass over one query.
func (a *Analyzer) Analyze(query string) *Analysis {
	res := &Analysis{QueryText: query}

	normalized := normalize(query)
	if normalized == "" {
		res.Complexity = Simple
		return res
	}
	masked := literalPattern.ReplaceAllString(normalized, "'?'")

	res.Tables = extractTables(masked)
	res.JoinCount = len(joinPattern.FindAllString(masked, -1))
	res.SubqueryCount = len(subPattern.FindAllString(masked, -1))
	res.AggregateCount = len(aggPattern.FindAllString(masked, -1))
	unionCount := strings.Count(strings.ToUpper(masked), " UNION ")

	weight := res.JoinCount*2 + res.SubqueryCount*3 + res.AggregateCount + unionCount*2
	res.Complexity = classifyWeight(weight)

	res.Issues = a.findAntiPatterns(masked, normalized)
	res.MissingIndexes = a.findMissingIndexes(masked, res.Tables)
	res.EstimatedCost = a.estimateCost(res)
	return res
}

// normalize strips comments and collapses whitespace.
func normalize(query string) string {
	q := commentBlockPattern.ReplaceAllString(query, " ")
	q = commentLinePattern.ReplaceAllString(q, " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(q, " "))
}

func classifyWeight(weight int) Complexity {
	switch {
	case weight <= 2:
		return Simple
	case weight <= 6:
		return Moderate
	case weight <= 12:
		return Complex
	default:
		return VeryComplex
	}
}

// findAntiPatterns runs the ordered catalogue of checks. The catalogue
// is extensible: each check is independent and contributes at most one
// finding per query.
func (a *Analyzer) findAntiPatterns(masked, normalized string) []Finding {
	var findings []Finding
	upper := strings.ToUpper(masked)

	if m := selectStarPattern.FindString(masked); m != "" {
		findings = append(findings, Finding{
			Code:        "select-star",
			Description: "SELECT * fetches every column; name the columns the caller needs",
			Fragment:    m,
		})
	}
	// The wildcard lives inside the literal, so this check runs on the
	// unmasked text.
	if m := leadingLikePattern.FindString(normalized); m != "" {
		findings = append(findings, Finding{
			Code:        "leading-wildcard-like",
			Description: "leading-wildcard LIKE cannot use an index; consider a full-text search",
			Fragment:    m,
		})
	}
	if f, ok := a.checkMissingWhere(upper, masked); ok {
		findings = append(findings, f)
	}
	if f, ok := checkImplicitCrossJoin(masked); ok {
		findings = append(findings, f)
	}
	if m := notInSubPattern.FindString(masked); m != "" {
		findings = append(findings, Finding{
			Code:        "not-in-subquery",
			Description: "NOT IN with a subquery scans the full result and mishandles NULLs; use NOT EXISTS",
			Fragment:    m,
		})
	}
	if m := funcPredPattern.FindString(masked); m != "" {
		findings = append(findings, Finding{
			Code:        "function-wrapped-predicate",
			Description: "a function around a predicate column defeats index use; move the function to the literal side",
			Fragment:    m,
		})
	}
	if orderNoLimit.MatchString(masked) && !limitPattern.MatchString(masked) {
		findings = append(findings, Finding{
			Code:        "unbounded-order-by",
			Description: "ORDER BY without a row limit sorts the whole result set",
		})
	}
	return findings
}

// checkMissingWhere flags mutating statements without a WHERE always,
// and SELECTs only when the catalogue marks a referenced table large.
func (a *Analyzer) checkMissingWhere(upper, masked string) (Finding, bool) {
	if strings.Contains(upper, " WHERE ") || strings.HasSuffix(upper, " WHERE") {
		return Finding{}, false
	}
	if strings.HasPrefix(upper, "DELETE") || strings.HasPrefix(upper, "UPDATE") {
		return Finding{
			Code:        "mutation-without-where",
			Description: "DELETE/UPDATE without WHERE touches every row",
		}, true
	}
	if strings.HasPrefix(upper, "SELECT") && !a.Catalog.Empty() {
		for _, name := range extractTables(masked) {
			if table, ok := a.Catalog.Table(name); ok && table.Large {
				return Finding{
					Code:        "full-scan-large-table",
					Description: "unfiltered SELECT from the large table " + table.Name,
				}, true
			}
		}
	}
	return Finding{}, false
}

// checkImplicitCrossJoin flags comma-separated table lists in FROM.
func checkImplicitCrossJoin(masked string) (Finding, bool) {
	m := fromPattern.FindStringSubmatch(masked)
	if m == nil {
		return Finding{}, false
	}
	if strings.Contains(m[1], ",") {
		return Finding{
			Code:        "implicit-cross-join",
			Description: "comma-joined tables form an implicit cross join; use explicit JOIN ... ON",
			Fragment:    strings.TrimSpace(m[1]),
		}, true
	}
	return Finding{}, false
}

// extractTables pulls table names from FROM and JOIN clauses. Aliases
// and bracket quoting are tolerated; subqueries contribute no name.
func extractTables(masked string) []string {
	seen := make(map[string]bool)
	var tables []string
	add := func(raw string) {
		name := strings.Trim(raw, `"[]`)
		if name == "" || strings.EqualFold(name, "SELECT") {
			return
		}
		key := strings.ToLower(name)
		if !seen[key] {
			seen[key] = true
			tables = append(tables, name)
		}
	}

	for _, m := range fromPattern.FindAllStringSubmatch(masked, -1) {
		for _, ref := range strings.Split(m[1], ",") {
			parts := strings.Fields(strings.TrimSpace(ref))
			if len(parts) > 0 {
				add(parts[0])
			}
		}
	}
	for _, m := range joinPattern.FindAllStringSubmatch(masked, -1) {
		add(m[1])
	}
	return tables
}

// findMissingIndexes flags predicate columns not covered by a catalogue
// index. With no catalogue the check is skipped entirely.
func (a *Analyzer) findMissingIndexes(masked string, tables []string) []MissingIndex {
	if a.Catalog.Empty() {
		return nil
	}

	var missing []MissingIndex
	seen := make(map[string]bool)
	for _, m := range predicatePattern.FindAllStringSubmatch(masked, -1) {
		qualifier, column := m[1], m[2]
		table, ok := a.resolveColumn(qualifier, column, tables)
		if !ok || table.HasIndexOn(column) {
			continue
		}
		key := strings.ToLower(table.Name + "." + column)
		if !seen[key] {
			seen[key] = true
			missing = append(missing, MissingIndex{Table: table.Name, Column: column})
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Table != missing[j].Table {
			return missing[i].Table < missing[j].Table
		}
		return missing[i].Column < missing[j].Column
	})
	return missing
}

// resolveColumn finds the referenced table owning the column. Qualified
// references match by table name; unqualified ones match the first
// referenced table declaring the column.
func (a *Analyzer) resolveColumn(qualifier, column string, tables []string) (*Table, bool) {
	if qualifier != "" {
		if table, ok := a.Catalog.Table(qualifier); ok && table.HasColumn(column) {
			return table, true
		}
		return nil, false
	}
	for _, name := range tables {
		if table, ok := a.Catalog.Table(name); ok && table.HasColumn(column) {
			return table, true
		}
	}
	return nil, false
}

// estimateCost is a relative, monotonic cost figure: it grows with table
// count, joins, subqueries and anti-patterns, and is not calibrated to
// any real execution time.
func (a *Analyzer) estimateCost(res *Analysis) float64 {
	cost := 10.0 * float64(len(res.Tables))
	cost += 25.0 * float64(res.JoinCount)
	cost += 40.0 * float64(res.SubqueryCount)
	cost += 5.0 * float64(res.AggregateCount)
	cost += 30.0 * float64(len(res.Issues))
	for _, name := range res.Tables {
		if table, ok := a.Catalog.Table(name); ok && table.Large {
			cost *= 1.5
		}
	}
	return cost
}
