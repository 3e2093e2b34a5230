// Package sqlrewrite applies a fixed, ordered set of rewrite rules to
// produce an optimized query with an estimated speedup.
package sqlrewrite

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/SandersNeo/perfdiag/src/sqlanalysis"
)

// Improvement is one applied rewrite rule.
type Improvement struct {
	Rule        string  `json:"rule"`
	Description string  `json:"description"`
	Multiplier  float64 `json:"multiplier"`
}

// Optimized is the rewrite result. When no rule applies the original
// text is returned unchanged with a speedup of exactly 1.0.
type Optimized struct {
	OriginalQuery    string        `json:"original_query"`
	OptimizedQuery   string        `json:"optimized_query"`
	Improvements     []Improvement `json:"improvements,omitempty"`
	EstimatedSpeedup float64       `json:"estimated_speedup"`
}

// Rewriter applies the rule set against an optional schema catalogue.
type Rewriter struct {
	Catalog *sqlanalysis.Catalog
	// MaxSpeedup caps the compounded estimate; rule multipliers alone
	// would claim implausible products on pathological queries.
	MaxSpeedup float64
}

// NewRewriter returns a Rewriter with the documented default cap.
func NewRewriter(catalog *sqlanalysis.Catalog) *Rewriter {
	return &Rewriter{Catalog: catalog, MaxSpeedup: 10.0}
}

// rule is one rewrite step. Rules run in fixed order; each returns the
// (possibly unchanged) query and whether it applied.
type rule struct {
	name  string
	apply func(r *Rewriter, query string) (string, string, float64, bool)
}

var rules = []rule{
	{name: "explicit-columns", apply: (*Rewriter).expandSelectStar},
	{name: "not-in-to-not-exists", apply: (*Rewriter).notInToNotExists},
	{name: "in-to-exists", apply: (*Rewriter).inToExists},
	{name: "full-text-search", apply: (*Rewriter).wildcardLikeToFullText},
	{name: "drop-redundant-distinct", apply: (*Rewriter).dropRedundantDistinct},
}

// Rewrite runs every rule in order and compounds their multipliers,
// capped at MaxSpeedup.
func (r *Rewriter) Rewrite(query string) *Optimized {
	result := &Optimized{
		OriginalQuery:    query,
		OptimizedQuery:   query,
		EstimatedSpeedup: 1.0,
	}

	current := query
	speedup := 1.0
	for _, rl := range rules {
		rewritten, description, multiplier, applied := rl.apply(r, current)
		if !applied {
			continue
		}
		current = rewritten
		speedup *= multiplier
		result.Improvements = append(result.Improvements, Improvement{
			Rule:        rl.name,
			Description: description,
			Multiplier:  multiplier,
		})
	}

	if len(result.Improvements) == 0 {
		return result
	}

	ceiling := r.MaxSpeedup
	if ceiling < 1.0 {
		ceiling = 1.0
	}
	if speedup > ceiling {
		speedup = ceiling
	}
	result.OptimizedQuery = current
	result.EstimatedSpeedup = speedup
	return result
}

var (
	selectStarPattern = regexp.MustCompile(`(?i)^(\s*SELECT\s+)\*(\s+FROM\s+([\w.\[\]"]+))`)
	notInPattern      = regexp.MustCompile(`(?i)([\w.]+)\s+NOT\s+IN\s*\(\s*(SELECT\s+([\w.]+)\s+FROM\s+([\w.]+)(?:\s+WHERE\s+([^()]*?))?)\s*\)`)
	inPattern         = regexp.MustCompile(`(?i)([\w.]+)\s+IN\s*\(\s*(SELECT\s+([\w.]+)\s+FROM\s+([\w.]+)(?:\s+WHERE\s+([^()]*?))?)\s*\)`)
	likePattern       = regexp.MustCompile(`(?i)([\w.]+)\s+LIKE\s+'%([^%']+)%'`)
	distinctPattern   = regexp.MustCompile(`(?i)^(\s*SELECT\s+)DISTINCT\s+(.*\bGROUP\s+BY\b.*)$`)
)

// expandSelectStar replaces a top-level SELECT * with the explicit
// column list, but only when the catalogue knows the table's columns.
func (r *Rewriter) expandSelectStar(query string) (string, string, float64, bool) {
	m := selectStarPattern.FindStringSubmatch(query)
	if m == nil {
		return query, "", 0, false
	}
	table, ok := r.Catalog.Table(strings.Trim(m[3], `"[]`))
	if !ok || len(table.Columns) == 0 {
		return query, "", 0, false
	}
	columns := strings.Join(table.Columns, ", ")
	rewritten := selectStarPattern.ReplaceAllString(query, "${1}"+columns+"${2}")
	return rewritten,
		fmt.Sprintf("replaced SELECT * with the %d columns of %s", len(table.Columns), table.Name),
		1.2, true
}

// notInToNotExists turns NOT IN (subquery) into a correlated NOT EXISTS,
// which can stop early and handles NULLs predictably.
func (r *Rewriter) notInToNotExists(query string) (string, string, float64, bool) {
	if !notInPattern.MatchString(query) {
		return query, "", 0, false
	}
	rewritten := notInPattern.ReplaceAllStringFunc(query, func(match string) string {
		sub := notInPattern.FindStringSubmatch(match)
		return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s WHERE %s)",
			sub[4], correlate(sub[3], sub[1], sub[5]))
	})
	return rewritten, "rewrote NOT IN (subquery) as NOT EXISTS", 1.5, true
}

// inToExists is the same hoist for the positive form.
func (r *Rewriter) inToExists(query string) (string, string, float64, bool) {
	if !inPattern.MatchString(query) {
		return query, "", 0, false
	}
	rewritten := inPattern.ReplaceAllStringFunc(query, func(match string) string {
		sub := inPattern.FindStringSubmatch(match)
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)",
			sub[4], correlate(sub[3], sub[1], sub[5]))
	})
	return rewritten, "rewrote IN (subquery) as EXISTS", 1.3, true
}

// correlate builds the WHERE clause of a hoisted EXISTS subquery,
// folding any original subquery predicate in front of the correlation.
func correlate(inner, outer, where string) string {
	condition := fmt.Sprintf("%s = %s", inner, outer)
	if strings.TrimSpace(where) != "" {
		condition = fmt.Sprintf("%s AND %s", strings.TrimSpace(where), condition)
	}
	return condition
}

// wildcardLikeToFullText rewrites a leading-wildcard LIKE into a
// CONTAINS full-text predicate when the catalogue confirms a full-text
// index on the column. Without that confirmation the rewrite is not
// semantically safe and the rule does not apply.
func (r *Rewriter) wildcardLikeToFullText(query string) (string, string, float64, bool) {
	var columns []string
	rewritten := likePattern.ReplaceAllStringFunc(query, func(match string) string {
		sub := likePattern.FindStringSubmatch(match)
		column := sub[1]
		bare := column
		if i := strings.LastIndexByte(bare, '.'); i >= 0 {
			bare = bare[i+1:]
		}
		if !r.hasFullText(bare) {
			return match
		}
		columns = append(columns, column)
		return fmt.Sprintf("CONTAINS(%s, '%s')", column, sub[2])
	})
	if len(columns) == 0 {
		return query, "", 0, false
	}
	return rewritten,
		fmt.Sprintf("replaced leading-wildcard LIKE on %s with a full-text CONTAINS", strings.Join(columns, ", ")),
		2.0, true
}

func (r *Rewriter) hasFullText(column string) bool {
	if r.Catalog.Empty() {
		return false
	}
	for i := range r.Catalog.Tables {
		if r.Catalog.Tables[i].HasFullTextOn(column) {
			return true
		}
	}
	return false
}

// dropRedundantDistinct removes DISTINCT when a GROUP BY already
// collapses duplicates.
func (r *Rewriter) dropRedundantDistinct(query string) (string, string, float64, bool) {
	m := distinctPattern.FindStringSubmatch(query)
	if m == nil {
		return query, "", 0, false
	}
	rewritten := m[1] + m[2]
	return rewritten, "removed DISTINCT made redundant by GROUP BY", 1.1, true
}
