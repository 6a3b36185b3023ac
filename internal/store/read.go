package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/queryir"
	"github.com/roach88/graphir/internal/schema"
)

var versionColumns = queryir.Fields(queryir.Versions)

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner) (ProgramVersion, error) {
	var v ProgramVersion
	var created string
	if err := row.Scan(&v.Seq, &v.ProgramID, &v.Fingerprint, &v.Label,
		&v.NumBlocks, &v.NumOps, &v.NumVars, &created); err != nil {
		return ProgramVersion{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return ProgramVersion{}, fmt.Errorf("parse created_at: %w", err)
	}
	v.CreatedAt = t
	return v, nil
}

// History returns every stored version of programID, oldest first.
// Returns an empty slice (not nil) for an unknown program.
func (s *Store) History(ctx context.Context, programID string) ([]ProgramVersion, error) {
	return s.FindVersions(ctx, VersionFilter{ProgramID: programID})
}

// Latest returns the most recent version of programID, or ErrNotFound.
func (s *Store) Latest(ctx context.Context, programID string) (ProgramVersion, error) {
	versions, err := s.FindVersions(ctx, VersionFilter{ProgramID: programID, Newest: true, Limit: 1})
	if err != nil {
		return ProgramVersion{}, err
	}
	if len(versions) == 0 {
		return ProgramVersion{}, notFound(sql.ErrNoRows, "latest version of %s", programID)
	}
	return versions[0], nil
}

// ProgramIDs lists the stored program ids in order of first appearance.
func (s *Store) ProgramIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT program_id
		FROM program_versions
		GROUP BY program_id
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query program ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan program id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate program ids: %w", err)
	}
	return ids, nil
}

// LoadProgram rebuilds the program stored with fingerprint. reg may be nil
// for the builtin operator registry.
func (s *Store) LoadProgram(ctx context.Context, fingerprint string, reg *schema.Registry) (*framework.Program, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT blob FROM program_versions
		WHERE fingerprint = ?
		ORDER BY seq ASC
		LIMIT 1
	`, fingerprint).Scan(&blob)
	if err != nil {
		return nil, notFound(err, "program %s", fingerprint)
	}
	p, err := framework.ParseProgram(blob, reg)
	if err != nil {
		return nil, fmt.Errorf("load program %s: %w", fingerprint, err)
	}
	return p, nil
}

var passRunColumns = queryir.Fields(queryir.PassRuns)

func scanPassRun(row scanner) (PassRun, error) {
	var r PassRun
	var config, summary, created string
	if err := row.Scan(&r.ID, &r.Pass, &config, &r.ConfigHash, &r.MainProgram, &r.StartupProgram,
		&r.MainBefore, &r.MainAfter, &r.StartupBefore, &r.StartupAfter,
		&summary, &r.ErrorCode, &r.ErrorMessage, &created); err != nil {
		return PassRun{}, err
	}
	var err error
	if r.Config, err = unmarshalObject(config); err != nil {
		return PassRun{}, err
	}
	if r.Summary, err = unmarshalObject(summary); err != nil {
		return PassRun{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return PassRun{}, fmt.Errorf("parse created_at: %w", err)
	}
	return r, nil
}

// PassRuns returns the runs applied to main program mainID, oldest first.
func (s *Store) PassRuns(ctx context.Context, mainID string) ([]PassRun, error) {
	return s.FindPassRuns(ctx, RunFilter{MainProgram: mainID})
}

// PassRun returns the run with id, or ErrNotFound.
func (s *Store) PassRun(ctx context.Context, id int64) (PassRun, error) {
	runs, err := s.FindPassRuns(ctx, RunFilter{ID: id})
	if err != nil {
		return PassRun{}, err
	}
	if len(runs) == 0 {
		return PassRun{}, notFound(sql.ErrNoRows, "pass run %d", id)
	}
	return runs[0], nil
}
