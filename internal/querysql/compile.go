// Package querysql compiles history queries to parameterized SQLite SQL.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/graphir/internal/ir"
	"github.com/roach88/graphir/internal/queryir"
)

// Compile validates q and converts it to SQL with ? placeholders and the
// matching arguments. Values are never interpolated, and every statement
// ends with an ORDER BY on the table's sequence column.
func Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}
	switch query := q.(type) {
	case queryir.Select:
		return compileSelect(query)
	case *queryir.Select:
		return compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func compileSelect(q queryir.Select) (string, []any, error) {
	var sb strings.Builder
	var args []any

	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(q.Columns, ", "), q.From)
	if q.Filter != nil {
		where, whereArgs, err := compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
		args = whereArgs
	}

	dir := "ASC"
	if q.Newest {
		dir = "DESC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s", queryir.OrderKey(q.From), dir)

	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return sb.String(), args, nil
}

func compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return compileComparison(pred.Field, "=", pred.Value)
	case *queryir.Equals:
		return compileComparison(pred.Field, "=", pred.Value)
	case queryir.NotEquals:
		return compileComparison(pred.Field, "<>", pred.Value)
	case *queryir.NotEquals:
		return compileComparison(pred.Field, "<>", pred.Value)
	case queryir.And:
		return compileAnd(pred)
	case *queryir.And:
		return compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileComparison(field, op string, value ir.Attr) (string, []any, error) {
	param, err := attrToParam(value)
	if err != nil {
		return "", nil, fmt.Errorf("column %s: %w", field, err)
	}
	return fmt.Sprintf("%s %s ?", field, op), []any{param}, nil
}

func compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}
	parts := make([]string, 0, len(and.Predicates))
	var args []any
	for _, pred := range and.Predicates {
		sql, predArgs, err := compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		if _, nested := pred.(queryir.And); nested {
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
		args = append(args, predArgs...)
	}
	return strings.Join(parts, " AND "), args, nil
}

// attrToParam converts a literal to a driver argument.
func attrToParam(v ir.Attr) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int64:
		return int64(val), nil
	case ir.Bool:
		return bool(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
