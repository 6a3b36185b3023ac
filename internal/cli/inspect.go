package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/graphir/internal/framework"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Dump bool
}

// ParamInfo summarizes one parameter.
type ParamInfo struct {
	Name      string  `json:"name"`
	Shape     []int64 `json:"shape"`
	Elements  int64   `json:"elements"`
	Trainable bool    `json:"trainable"`
}

// ProgramInfo summarizes a program file.
type ProgramInfo struct {
	ID          string      `json:"id"`
	Fingerprint string      `json:"fingerprint"`
	Blocks      int         `json:"blocks"`
	Ops         int         `json:"ops"`
	Vars        int         `json:"vars"`
	OpTypes     []string    `json:"op_types"`
	Params      []ParamInfo `json:"params"`
	Elements    int64       `json:"elements"`
	Dump        string      `json:"dump,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <program>",
		Short: "Summarize a program file",
		Long: `Print the id, fingerprint, size and parameters of a program file.
With --dump the full text form of every block follows.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Dump, "dump", false, "include the text dump of every block")

	return cmd
}

func runInspect(opts *InspectOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	reg, err := loadRegistry(opts.RootOptions)
	if err != nil {
		return f.Fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}
	p, err := readProgram(path, reg)
	if err != nil {
		return f.Fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}

	info, err := newProgramInfo(p)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
	}
	if opts.Dump {
		info.Dump = p.String()
	}
	return f.Success(info, info.text())
}

func newProgramInfo(p *framework.Program) (ProgramInfo, error) {
	fp, err := p.Fingerprint()
	if err != nil {
		return ProgramInfo{}, err
	}
	info := ProgramInfo{
		ID:          p.ID(),
		Fingerprint: fp,
		Blocks:      p.NumBlocks(),
		OpTypes:     []string{},
		Params:      []ParamInfo{},
	}
	for _, b := range p.Blocks() {
		info.Ops += b.NumOps()
		info.Vars += len(b.Vars())
		for _, op := range b.Ops() {
			info.OpTypes = append(info.OpTypes, op.Type())
		}
	}
	for _, param := range p.AllParameters() {
		n, _ := param.NumElements()
		info.Params = append(info.Params, ParamInfo{
			Name:      param.Name(),
			Shape:     param.Shape(),
			Elements:  n,
			Trainable: param.Trainable(),
		})
		info.Elements += n
	}
	return info, nil
}

func (info ProgramInfo) text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Program %s\n", info.ID)
	fmt.Fprintf(&sb, "  fingerprint: %s\n", info.Fingerprint)
	fmt.Fprintf(&sb, "  blocks: %d, ops: %d, vars: %d\n", info.Blocks, info.Ops, info.Vars)
	fmt.Fprintf(&sb, "  parameters: %d (%s elements)\n", len(info.Params), humanize.Comma(info.Elements))
	for _, p := range info.Params {
		fmt.Fprintf(&sb, "    %s %v %s\n", p.Name, p.Shape, humanize.Comma(p.Elements))
	}
	if info.Dump != "" {
		sb.WriteString("\n")
		sb.WriteString(info.Dump)
	}
	return sb.String()
}
