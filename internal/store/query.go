package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/graphir/internal/ir"
	"github.com/roach88/graphir/internal/queryir"
	"github.com/roach88/graphir/internal/querysql"
)

// VersionFilter selects program versions. Zero fields match every row.
type VersionFilter struct {
	ProgramID   string
	Fingerprint string
	Label       string
	// Newest lists the latest versions first.
	Newest bool
	Limit  int
}

func (f VersionFilter) query() queryir.Select {
	return queryir.Select{
		From:    queryir.Versions,
		Columns: versionColumns,
		Filter: queryir.AllOf(
			equalsIfSet("program_id", f.ProgramID),
			equalsIfSet("fingerprint", f.Fingerprint),
			equalsIfSet("label", f.Label),
		),
		Newest: f.Newest,
		Limit:  f.Limit,
	}
}

// RunFilter selects pass runs. Zero fields match every row.
type RunFilter struct {
	ID          int64
	MainProgram string
	Pass        string
	ErrorCode   string
	// Failed keeps only runs that ended in an error.
	Failed bool
	Limit  int
}

func (f RunFilter) query() queryir.Select {
	var id, failed queryir.Predicate
	if f.ID != 0 {
		id = queryir.Equals{Field: "id", Value: ir.Int64(f.ID)}
	}
	if f.Failed {
		failed = queryir.NotEquals{Field: "error_code", Value: ir.String("")}
	}
	return queryir.Select{
		From:    queryir.PassRuns,
		Columns: passRunColumns,
		Filter: queryir.AllOf(
			id,
			equalsIfSet("main_program", f.MainProgram),
			equalsIfSet("pass", f.Pass),
			equalsIfSet("error_code", f.ErrorCode),
			failed,
		),
		Limit: f.Limit,
	}
}

func equalsIfSet(field, value string) queryir.Predicate {
	if value == "" {
		return nil
	}
	return queryir.Equals{Field: field, Value: ir.String(value)}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// FindVersions returns the versions matching f, oldest first unless
// f.Newest is set. Returns an empty slice (not nil) when nothing matches.
func (s *Store) FindVersions(ctx context.Context, f VersionFilter) ([]ProgramVersion, error) {
	return findVersions(ctx, s.db, f)
}

// FindPassRuns returns the runs matching f, oldest first.
func (s *Store) FindPassRuns(ctx context.Context, f RunFilter) ([]PassRun, error) {
	return findRows(ctx, s.db, f.query(), "pass runs", scanPassRun)
}

func findVersions(ctx context.Context, q querier, f VersionFilter) ([]ProgramVersion, error) {
	return findRows(ctx, q, f.query(), "versions", scanVersion)
}

func findRows[T any](ctx context.Context, q querier, sel queryir.Select, what string, scan func(scanner) (T, error)) ([]T, error) {
	stmt, args, err := querysql.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return out, nil
}
