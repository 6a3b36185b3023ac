package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/graphir/internal/schema"
)

// SlotInfo is the JSON form of an input or output slot.
type SlotInfo struct {
	Name         string `json:"name"`
	Duplicable   bool   `json:"duplicable,omitempty"`
	Dispensable  bool   `json:"dispensable,omitempty"`
	Intermediate bool   `json:"intermediate,omitempty"`
}

// AttrInfo is the JSON form of an attribute slot.
type AttrInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Default  string `json:"default,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// OpInfo describes one operator schema.
type OpInfo struct {
	Type    string     `json:"type"`
	Doc     string     `json:"doc,omitempty"`
	Inputs  []SlotInfo `json:"inputs"`
	Outputs []SlotInfo `json:"outputs"`
	Attrs   []AttrInfo `json:"attrs"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [op-type...]",
		Short: "List or describe operator schemas",
		Long: `List the registered operator types, or describe the slots and
attributes of the given types. Extra schemas are merged in with --schemas.

Examples:
  graphir schema
  graphir schema adam c_broadcast
  graphir schema --schemas ./ops --format json my_op`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runSchema(opts *RootOptions, types []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	reg, err := loadRegistry(opts)
	if err != nil {
		return f.Fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}
	f.VerboseLog("Registry holds %d operator types", reg.Len())

	if len(types) == 0 {
		all := reg.Types()
		return f.Success(map[string]any{"types": all}, strings.Join(all, "\n")+"\n")
	}

	infos := make([]OpInfo, 0, len(types))
	var sb strings.Builder
	for _, t := range types {
		s, ok := reg.Lookup(t)
		if !ok {
			return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("unknown operator type %q", t), nil)
		}
		info := newOpInfo(s)
		infos = append(infos, info)
		writeOpInfo(&sb, info)
	}
	return f.Success(map[string]any{"ops": infos}, sb.String())
}

func newOpInfo(s *schema.OpSchema) OpInfo {
	info := OpInfo{Type: s.Type, Doc: s.Doc, Inputs: slotInfos(s.Inputs), Outputs: slotInfos(s.Outputs), Attrs: []AttrInfo{}}
	for _, a := range s.Attrs {
		if schema.IsBookkeepingAttr(a.Name) {
			continue
		}
		ai := AttrInfo{Name: a.Name, Type: a.Type.String(), Required: a.Required}
		if a.Default != nil {
			ai.Default = a.Default.String()
		}
		info.Attrs = append(info.Attrs, ai)
	}
	return info
}

func slotInfos(slots []schema.Slot) []SlotInfo {
	out := make([]SlotInfo, len(slots))
	for i, s := range slots {
		out[i] = SlotInfo{Name: s.Name, Duplicable: s.Duplicable, Dispensable: s.Dispensable, Intermediate: s.Intermediate}
	}
	return out
}

func writeOpInfo(sb *strings.Builder, info OpInfo) {
	fmt.Fprintf(sb, "%s\n", info.Type)
	if info.Doc != "" {
		fmt.Fprintf(sb, "  %s\n", info.Doc)
	}
	for _, group := range []struct {
		label string
		slots []SlotInfo
	}{{"inputs", info.Inputs}, {"outputs", info.Outputs}} {
		fmt.Fprintf(sb, "  %s:\n", group.label)
		for _, s := range group.slots {
			var flags []string
			if s.Duplicable {
				flags = append(flags, "duplicable")
			}
			if s.Dispensable {
				flags = append(flags, "dispensable")
			}
			if s.Intermediate {
				flags = append(flags, "intermediate")
			}
			if len(flags) > 0 {
				fmt.Fprintf(sb, "    %s (%s)\n", s.Name, strings.Join(flags, ", "))
			} else {
				fmt.Fprintf(sb, "    %s\n", s.Name)
			}
		}
	}
	fmt.Fprintf(sb, "  attrs:\n")
	for _, a := range info.Attrs {
		switch {
		case a.Required:
			fmt.Fprintf(sb, "    %s %s (required)\n", a.Name, a.Type)
		case a.Default != "":
			fmt.Fprintf(sb, "    %s %s = %s\n", a.Name, a.Type, a.Default)
		default:
			fmt.Fprintf(sb, "    %s %s\n", a.Name, a.Type)
		}
	}
}
