package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/graphir/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	// Export writes the program with this fingerprint to Output instead
	// of listing history.
	Export string
	Output string
	// Filters applied when listing one program.
	Label  string
	Pass   string
	Code   string
	Failed bool
}

// VersionEntry is the JSON form of a stored program version.
type VersionEntry struct {
	Seq         int64     `json:"seq"`
	ProgramID   string    `json:"program_id"`
	Fingerprint string    `json:"fingerprint"`
	Label       string    `json:"label,omitempty"`
	Ops         int       `json:"ops"`
	Vars        int       `json:"vars"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunEntry is the JSON form of a recorded pass run.
type RunEntry struct {
	ID         int64          `json:"id"`
	Pass       string         `json:"pass"`
	ConfigHash string         `json:"config_hash"`
	MainBefore string         `json:"main_before"`
	MainAfter  string         `json:"main_after,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [program-id]",
		Short: "Show stored program versions and pass runs",
		Long: `Without arguments, list every program in the store with its latest
version. With a program id, list its versions and the pass runs applied to
it. With --export, write a stored version back to a program file.

Examples:
  graphir history --db history.db
  graphir history --db history.db train-main
  graphir history --db history.db train-main --failed
  graphir history --db history.db train-main --label input --pass auto_parallel_sharding
  graphir history --db history.db --export 3f2a... -o restored.gir`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Export, "export", "", "fingerprint of a version to write out")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file for --export")
	cmd.Flags().StringVar(&opts.Label, "label", "", "only versions with this label")
	cmd.Flags().StringVar(&opts.Pass, "pass", "", "only runs of this pass")
	cmd.Flags().StringVar(&opts.Code, "code", "", "only runs that failed with this error code")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only failed runs")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Opening creates a missing database; history of nothing is an error.
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), nil)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("open store: %v", err), nil)
	}
	defer st.Close()

	switch {
	case opts.Export != "":
		return exportVersion(ctx, f, st, opts)
	case len(args) == 0:
		return listPrograms(ctx, f, st)
	}
	return showProgram(ctx, f, st, args[0], opts)
}

func newVersionEntry(v store.ProgramVersion) VersionEntry {
	return VersionEntry{
		Seq:         v.Seq,
		ProgramID:   v.ProgramID,
		Fingerprint: v.Fingerprint,
		Label:       v.Label,
		Ops:         v.NumOps,
		Vars:        v.NumVars,
		CreatedAt:   v.CreatedAt,
	}
}

func listPrograms(ctx context.Context, f *OutputFormatter, st *store.Store) error {
	ids, err := st.ProgramIDs(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	latest := make([]VersionEntry, 0, len(ids))
	var sb strings.Builder
	for _, id := range ids {
		v, err := st.Latest(ctx, id)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
		}
		e := newVersionEntry(v)
		latest = append(latest, e)
		fmt.Fprintf(&sb, "%-24s #%d %s %d ops (%s)\n", id, e.Seq, short(e.Fingerprint), e.Ops, humanize.Time(e.CreatedAt))
	}
	if len(ids) == 0 {
		sb.WriteString("No programs stored.\n")
	}
	return f.Success(map[string]any{"programs": latest}, sb.String())
}

func showProgram(ctx context.Context, f *OutputFormatter, st *store.Store, id string, opts *HistoryOptions) error {
	if _, err := st.Latest(ctx, id); errors.Is(err, store.ErrNotFound) {
		return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("program %q not found", id), nil)
	} else if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	versions, err := st.FindVersions(ctx, store.VersionFilter{ProgramID: id, Label: opts.Label})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	runs, err := st.FindPassRuns(ctx, store.RunFilter{
		MainProgram: id,
		Pass:        opts.Pass,
		ErrorCode:   opts.Code,
		Failed:      opts.Failed,
	})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Program %s: %d version(s)\n", id, len(versions))
	entries := make([]VersionEntry, len(versions))
	for i, v := range versions {
		entries[i] = newVersionEntry(v)
		fmt.Fprintf(&sb, "  #%d %s %-24s %d ops, %d vars\n", v.Seq, short(v.Fingerprint), v.Label, v.NumOps, v.NumVars)
	}

	runEntries := make([]RunEntry, len(runs))
	if len(runs) > 0 {
		fmt.Fprintf(&sb, "Pass runs: %d\n", len(runs))
	}
	for i, r := range runs {
		runEntries[i] = RunEntry{
			ID:         r.ID,
			Pass:       r.Pass,
			ConfigHash: r.ConfigHash,
			MainBefore: r.MainBefore,
			MainAfter:  r.MainAfter,
			Summary:    r.Summary,
			ErrorCode:  r.ErrorCode,
			Error:      r.ErrorMessage,
			CreatedAt:  r.CreatedAt,
		}
		if r.Failed() {
			fmt.Fprintf(&sb, "  [%d] %s %s failed %s: %s\n", r.ID, r.Pass, short(r.MainBefore), r.ErrorCode, r.ErrorMessage)
		} else {
			fmt.Fprintf(&sb, "  [%d] %s %s -> %s\n", r.ID, r.Pass, short(r.MainBefore), short(r.MainAfter))
		}
	}

	return f.Success(map[string]any{"versions": entries, "runs": runEntries}, sb.String())
}

func exportVersion(ctx context.Context, f *OutputFormatter, st *store.Store, opts *HistoryOptions) error {
	if opts.Output == "" {
		return f.Fail(ExitCommandError, ErrCodeBadInput, "--export requires --output", nil)
	}
	reg, err := loadRegistry(opts.RootOptions)
	if err != nil {
		return f.Fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}
	p, err := st.LoadProgram(ctx, opts.Export, reg)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeNotFound, err.Error(), nil)
	}
	if err := writeProgram(p, opts.Output); err != nil {
		return f.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error(), nil)
	}
	return f.Success(map[string]any{"program": p.ID(), "path": opts.Output},
		fmt.Sprintf("wrote %s to %s\n", p.ID(), opts.Output))
}
