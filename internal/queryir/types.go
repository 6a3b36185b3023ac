package queryir

import (
	"slices"

	"github.com/roach88/graphir/internal/ir"
)

// Table names a history table.
type Table string

const (
	Versions Table = "program_versions"
	PassRuns Table = "pass_runs"
)

var tableFields = map[Table][]string{
	Versions: {"seq", "program_id", "fingerprint", "label", "num_blocks", "num_ops", "num_vars", "created_at"},
	PassRuns: {"id", "pass", "config", "config_hash", "main_program", "startup_program",
		"main_before", "main_after", "startup_before", "startup_after",
		"summary", "error_code", "error_message", "created_at"},
}

var orderKeys = map[Table]string{
	Versions: "seq",
	PassRuns: "id",
}

// Fields lists the queryable columns of t in declaration order, or nil
// for an unknown table. Description blobs are not queryable.
func Fields(t Table) []string { return slices.Clone(tableFields[t]) }

// OrderKey is the sequence column rows of t are ordered by.
func OrderKey(t Table) string { return orderKeys[t] }

// HasField reports whether field is a queryable column of t.
func HasField(t Table, field string) bool { return slices.Contains(tableFields[t], field) }

// Query is a query over the history tables.
type Query interface {
	queryNode()
}

// Predicate is a row filter.
type Predicate interface {
	predicateNode()
}

// Select reads Columns of the rows of From that match Filter.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order key> [DESC] LIMIT <limit>
type Select struct {
	From    Table
	Columns []string
	Filter  Predicate // nil matches every row
	// Newest reverses the sequence order.
	Newest bool
	Limit  int // 0 for no limit
}

func (Select) queryNode() {}

// Equals matches rows whose Field equals Value.
type Equals struct {
	Field string
	Value ir.Attr
}

func (Equals) predicateNode() {}

// NotEquals matches rows whose Field differs from Value.
type NotEquals struct {
	Field string
	Value ir.Attr
}

func (NotEquals) predicateNode() {}

// And matches rows matching every predicate. An empty And matches every
// row.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// AllOf drops nil predicates and returns the conjunction of the rest,
// the single remaining predicate, or nil.
func AllOf(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return And{Predicates: kept}
}
