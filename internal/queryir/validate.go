package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/graphir/internal/ir"
)

// ValidationError lists every problem found in a query.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + strings.Join(e.Problems, "; ")
}

// Validate checks q against the table catalog and returns a
// *ValidationError collecting every problem, or nil.
func Validate(q Query) error {
	v := &validator{}
	v.validateQuery(q)
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

type validator struct {
	table    Table
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.addProblem("nil query")
	case Select:
		v.validateSelect(query)
	case *Select:
		if query == nil {
			v.addProblem("nil query")
			return
		}
		v.validateSelect(*query)
	default:
		v.addProblem("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if _, ok := tableFields[sel.From]; !ok {
		v.addProblem("unknown table %q", sel.From)
		return
	}
	v.table = sel.From
	if len(sel.Columns) == 0 {
		v.addProblem("no columns selected from %s", sel.From)
	}
	for _, c := range sel.Columns {
		v.checkField(c)
	}
	if sel.Limit < 0 {
		v.addProblem("negative limit %d", sel.Limit)
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

func (v *validator) checkField(field string) {
	if !HasField(v.table, field) {
		v.addProblem("unknown column %q of %s", field, v.table)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v.checkComparison(pred.Field, pred.Value)
	case *Equals:
		v.checkComparison(pred.Field, pred.Value)
	case NotEquals:
		v.checkComparison(pred.Field, pred.Value)
	case *NotEquals:
		v.checkComparison(pred.Field, pred.Value)
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	default:
		v.addProblem("unknown predicate type %T", p)
	}
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Predicates {
		if sub == nil {
			v.addProblem("nil predicate in conjunction")
			continue
		}
		v.validatePredicate(sub)
	}
}

func (v *validator) checkComparison(field string, value ir.Attr) {
	v.checkField(field)
	switch value.(type) {
	case ir.Bool, ir.Int64, ir.String:
	case nil:
		v.addProblem("column %q compared to nil", field)
	default:
		v.addProblem("column %q compared to unsupported %s value", field, value.Type())
	}
}
