package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ValidationResult holds the outcome for one program file.
type ValidationResult struct {
	Path    string `json:"path"`
	Program string `json:"program,omitempty"`
	Valid   bool   `json:"valid"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <program>...",
		Short: "Check that program files are ready for execution",
		Long: `Decode each program file and check that every operator argument
resolves lexically and that the block parents form a tree rooted at block 0.

Exit codes:
  0 - All programs are valid
  1 - At least one program is invalid
  2 - Command error (unreadable schemas, etc.)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	reg, err := loadRegistry(opts)
	if err != nil {
		return f.Fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}

	results := make([]ValidationResult, 0, len(paths))
	invalid := 0
	var sb strings.Builder
	for _, path := range paths {
		r := ValidationResult{Path: path, Valid: true}
		err := catch(func() error {
			p, err := readProgram(path, reg)
			if err != nil {
				return err
			}
			r.Program = p.ID()
			return p.Validate()
		})
		if err != nil {
			r.Valid = false
			r.Code = errorCode(err, loadErrorCode(err))
			r.Error = err.Error()
			invalid++
			fmt.Fprintf(&sb, "✗ %s\n  %s\n", path, r.Error)
		} else {
			fmt.Fprintf(&sb, "✓ %s (%s)\n", path, r.Program)
		}
		results = append(results, r)
	}

	if err := f.Success(map[string]any{"results": results, "invalid": invalid}, sb.String()); err != nil {
		return err
	}
	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d program(s) invalid", invalid))
	}
	return nil
}
