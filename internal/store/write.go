package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/ir"
)

// ProgramVersion is one stored description of a program.
type ProgramVersion struct {
	Seq         int64
	ProgramID   string
	Fingerprint string
	Label       string
	NumBlocks   int
	NumOps      int
	NumVars     int
	CreatedAt   time.Time
}

// PassRun records one pass application. After fingerprints are empty and
// ErrorCode is set when the pass failed.
type PassRun struct {
	ID             int64
	Pass           string
	Config         map[string]any
	ConfigHash     string
	MainProgram    string
	StartupProgram string
	MainBefore     string
	MainAfter      string
	StartupBefore  string
	StartupAfter   string
	Summary        map[string]any
	ErrorCode      string
	ErrorMessage   string
	CreatedAt      time.Time
}

// Failed reports whether the run ended in an error.
func (r PassRun) Failed() bool { return r.ErrorCode != "" || r.ErrorMessage != "" }

func countProgram(p *framework.Program) (ops, vars int) {
	for _, b := range p.Blocks() {
		ops += b.NumOps()
		vars += len(b.Vars())
	}
	return ops, vars
}

// SaveProgram stores the current description of p under label.
// Saving a description already stored for the same program id is a no-op
// that returns the existing version with inserted=false.
func (s *Store) SaveProgram(ctx context.Context, p *framework.Program, label string) (v ProgramVersion, inserted bool, err error) {
	blob, err := p.MarshalBinary()
	if err != nil {
		return ProgramVersion{}, false, fmt.Errorf("save program %s: %w", p.ID(), err)
	}
	fp := ir.ProgramFingerprint(blob)
	ops, vars := countProgram(p)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ProgramVersion{}, false, fmt.Errorf("save program: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO program_versions
		(program_id, fingerprint, label, num_blocks, num_ops, num_vars, blob, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(program_id, fingerprint) DO NOTHING
	`,
		p.ID(),
		fp,
		label,
		p.NumBlocks(),
		ops,
		vars,
		blob,
		s.now(),
	)
	if err != nil {
		return ProgramVersion{}, false, fmt.Errorf("save program: insert: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return ProgramVersion{}, false, fmt.Errorf("save program: rows affected: %w", err)
	}

	stored, err := findVersions(ctx, tx, VersionFilter{ProgramID: p.ID(), Fingerprint: fp})
	if err != nil {
		return ProgramVersion{}, false, fmt.Errorf("save program: %w", err)
	}
	if len(stored) != 1 {
		return ProgramVersion{}, false, fmt.Errorf("save program: %d rows for %s@%s", len(stored), p.ID(), fp)
	}
	v = stored[0]

	if err := tx.Commit(); err != nil {
		return ProgramVersion{}, false, fmt.Errorf("save program: commit: %w", err)
	}
	return v, rows > 0, nil
}

// RecordPassRun appends a pass run and returns its id. The config hash is
// computed when run.ConfigHash is empty.
func (s *Store) RecordPassRun(ctx context.Context, run PassRun) (int64, error) {
	configJSON, err := marshalObject(run.Config)
	if err != nil {
		return 0, fmt.Errorf("record pass run: %w", err)
	}
	if run.ConfigHash == "" {
		if run.Config == nil {
			run.Config = map[string]any{}
		}
		if run.ConfigHash, err = ir.ConfigHash(run.Config); err != nil {
			return 0, fmt.Errorf("record pass run: %w", err)
		}
	}
	summaryJSON, err := marshalObject(run.Summary)
	if err != nil {
		return 0, fmt.Errorf("record pass run: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO pass_runs
		(pass, config, config_hash, main_program, startup_program,
		 main_before, main_after, startup_before, startup_after,
		 summary, error_code, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.Pass,
		configJSON,
		run.ConfigHash,
		run.MainProgram,
		run.StartupProgram,
		run.MainBefore,
		run.MainAfter,
		run.StartupBefore,
		run.StartupAfter,
		summaryJSON,
		run.ErrorCode,
		run.ErrorMessage,
		s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("record pass run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record pass run: last insert id: %w", err)
	}
	return id, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
