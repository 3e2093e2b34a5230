package sqlrewrite

import (
	"testing"

	"github.com/SandersNeo/perfdiag/src/sqlanalysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *sqlanalysis.Catalog {
	return &sqlanalysis.Catalog{Tables: []sqlanalysis.Table{
		{
			Name:            "orders",
			Columns:         []string{"id", "customer_id", "status"},
			IndexedColumns:  []string{"id"},
			FullTextColumns: []string{"notes"},
		},
		{Name: "customers", Columns: []string{"id", "name"}},
	}}
}

func TestRewrite_AlreadyOptimal(t *testing.T) {
	r := NewRewriter(testCatalog())
	query := "SELECT id, status FROM orders WHERE id = 5"

	res := r.Rewrite(query)

	assert.Equal(t, query, res.OptimizedQuery, "an optimal query passes through untouched")
	assert.Equal(t, 1.0, res.EstimatedSpeedup)
	assert.Empty(t, res.Improvements)
}

func TestRewrite_SelectStarWithCatalog(t *testing.T) {
	r := NewRewriter(testCatalog())

	res := r.Rewrite("SELECT * FROM orders WHERE id = 5")

	assert.Equal(t, "SELECT id, customer_id, status FROM orders WHERE id = 5", res.OptimizedQuery)
	require.Len(t, res.Improvements, 1)
	assert.Equal(t, "explicit-columns", res.Improvements[0].Rule)
	assert.Equal(t, 1.2, res.EstimatedSpeedup)
}

func TestRewrite_SelectStarWithoutCatalog(t *testing.T) {
	r := NewRewriter(nil)
	query := "SELECT * FROM orders WHERE id = 5"

	res := r.Rewrite(query)

	assert.Equal(t, query, res.OptimizedQuery, "without column knowledge the rule must not apply")
	assert.Equal(t, 1.0, res.EstimatedSpeedup)
}

func TestRewrite_NotInToNotExists(t *testing.T) {
	r := NewRewriter(testCatalog())

	res := r.Rewrite("SELECT id FROM orders WHERE customer_id NOT IN (SELECT id FROM customers)")

	assert.Contains(t, res.OptimizedQuery, "NOT EXISTS (SELECT 1 FROM customers WHERE id = customer_id)")
	assert.NotContains(t, res.OptimizedQuery, "NOT IN")
	require.Len(t, res.Improvements, 1)
	assert.Equal(t, "not-in-to-not-exists", res.Improvements[0].Rule)
}

func TestRewrite_InSubqueryWithWhere(t *testing.T) {
	r := NewRewriter(testCatalog())

	res := r.Rewrite("SELECT id FROM orders WHERE customer_id IN (SELECT id FROM customers WHERE name = 'x')")

	assert.Contains(t, res.OptimizedQuery, "EXISTS (SELECT 1 FROM customers WHERE name = 'x' AND id = customer_id)")
	require.Len(t, res.Improvements, 1)
	assert.Equal(t, "in-to-exists", res.Improvements[0].Rule)
}

func TestRewrite_FullTextOnlyWithIndex(t *testing.T) {
	r := NewRewriter(testCatalog())

	// notes has a full-text index: the rewrite applies.
	res := r.Rewrite("SELECT id FROM orders WHERE notes LIKE '%refund%'")
	assert.Contains(t, res.OptimizedQuery, "CONTAINS(notes, 'refund')")
	require.Len(t, res.Improvements, 1)
	assert.Equal(t, "full-text-search", res.Improvements[0].Rule)

	// status has none: not semantically safe, leave it alone.
	query := "SELECT id FROM orders WHERE status LIKE '%open%'"
	res = r.Rewrite(query)
	assert.Equal(t, query, res.OptimizedQuery)
	assert.Equal(t, 1.0, res.EstimatedSpeedup)
}

func TestRewrite_EachNotInKeepsItsOwnSubquery(t *testing.T) {
	r := NewRewriter(testCatalog())

	res := r.Rewrite("SELECT id FROM orders WHERE customer_id NOT IN (SELECT id FROM customers) AND status NOT IN (SELECT customer_id FROM orders WHERE id = 1)")

	assert.Contains(t, res.OptimizedQuery, "NOT EXISTS (SELECT 1 FROM customers WHERE id = customer_id)")
	assert.Contains(t, res.OptimizedQuery, "NOT EXISTS (SELECT 1 FROM orders WHERE id = 1 AND customer_id = status)",
		"the second occurrence keeps its own table and correlation")
	assert.NotContains(t, res.OptimizedQuery, "NOT IN")
	require.Len(t, res.Improvements, 1, "one rule entry covers every occurrence")
}

func TestRewrite_EachInKeepsItsOwnSubquery(t *testing.T) {
	r := NewRewriter(testCatalog())

	res := r.Rewrite("SELECT id FROM orders WHERE customer_id IN (SELECT id FROM customers) AND status IN (SELECT customer_id FROM orders WHERE id = 1)")

	assert.Contains(t, res.OptimizedQuery, "EXISTS (SELECT 1 FROM customers WHERE id = customer_id)")
	assert.Contains(t, res.OptimizedQuery, "EXISTS (SELECT 1 FROM orders WHERE id = 1 AND customer_id = status)")
	assert.NotContains(t, res.OptimizedQuery, " IN (SELECT")
}

func TestRewrite_FullTextPerColumn(t *testing.T) {
	r := NewRewriter(testCatalog())

	// Both predicates sit on the indexed column: each keeps its own term.
	res := r.Rewrite("SELECT id FROM orders WHERE notes LIKE '%refund%' OR notes LIKE '%chargeback%'")
	assert.Contains(t, res.OptimizedQuery, "CONTAINS(notes, 'refund')")
	assert.Contains(t, res.OptimizedQuery, "CONTAINS(notes, 'chargeback')")
	assert.NotContains(t, res.OptimizedQuery, "LIKE")
	require.Len(t, res.Improvements, 1)

	// Mixed columns: only the indexed one is rewritten.
	res = r.Rewrite("SELECT id FROM orders WHERE notes LIKE '%refund%' OR status LIKE '%open%'")
	assert.Contains(t, res.OptimizedQuery, "CONTAINS(notes, 'refund')")
	assert.Contains(t, res.OptimizedQuery, "status LIKE '%open%'", "columns without a full-text index stay as written")
}

func TestRewrite_RedundantDistinct(t *testing.T) {
	r := NewRewriter(testCatalog())

	res := r.Rewrite("SELECT DISTINCT status FROM orders GROUP BY status")

	assert.Equal(t, "SELECT status FROM orders GROUP BY status", res.OptimizedQuery)
	require.Len(t, res.Improvements, 1)
	assert.Equal(t, "drop-redundant-distinct", res.Improvements[0].Rule)
}

func TestRewrite_CompoundSpeedup(t *testing.T) {
	r := NewRewriter(testCatalog())

	res := r.Rewrite("SELECT * FROM orders WHERE customer_id NOT IN (SELECT id FROM customers)")

	require.Len(t, res.Improvements, 2)
	assert.InDelta(t, 1.2*1.5, res.EstimatedSpeedup, 1e-9, "multipliers compound")
}

func TestRewrite_SpeedupCap(t *testing.T) {
	r := NewRewriter(testCatalog())
	r.MaxSpeedup = 1.4

	res := r.Rewrite("SELECT * FROM orders WHERE customer_id NOT IN (SELECT id FROM customers)")

	assert.Equal(t, 1.4, res.EstimatedSpeedup, "the cap bounds implausible compounding")
	assert.Len(t, res.Improvements, 2, "the cap trims the estimate, not the applied rules")
}
