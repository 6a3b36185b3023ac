package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/graphir/internal/distributed"
	"github.com/roach88/graphir/internal/passes"
	"github.com/roach88/graphir/internal/testutil"
)

// Scenario builds a training pair, runs passes over it and checks the
// outcome. Name also names the golden file.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Program describes the training fixture the passes rewrite.
	Program ProgramSpec `yaml:"program"`

	// Annotations place tensors on process meshes before any pass runs.
	Annotations *distributed.Annotations `yaml:"annotations,omitempty"`

	// Passes run in order. A step that fails without expecting to stops
	// the scenario.
	Passes []PassStep `yaml:"passes"`

	// Assertions validate the final programs, summaries and store.
	Assertions []Assertion `yaml:"assertions"`
}

// ProgramSpec configures testutil.NewTraining.
type ProgramSpec struct {
	// ID prefixes the program ids; "train" when empty.
	ID        string      `yaml:"id,omitempty"`
	Optimizer string      `yaml:"optimizer,omitempty"`
	Params    []ParamSpec `yaml:"params"`
}

type ParamSpec struct {
	Name  string  `yaml:"name"`
	Shape []int64 `yaml:"shape"`
}

func (p ProgramSpec) options() testutil.TrainingOptions {
	opts := testutil.TrainingOptions{ID: p.ID, Optimizer: p.Optimizer}
	for _, ps := range p.Params {
		opts.Params = append(opts.Params, testutil.ParamSpec{Name: ps.Name, Shape: ps.Shape})
	}
	return opts
}

// PassStep applies one registered pass.
type PassStep struct {
	Pass  string         `yaml:"pass"`
	Attrs map[string]any `yaml:"attrs"`

	// ExpectError is the error code the pass must fail with, such as
	// "E305". Empty means the pass must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Program is "main" (default) or "startup".
	Program string `yaml:"program,omitempty"`

	// Op is the op type (op_count, op_attr).
	Op string `yaml:"op,omitempty"`

	// Ops is the expected op order (op_order).
	Ops []string `yaml:"ops,omitempty"`

	// Index selects among ops of type Op (op_attr).
	Index int `yaml:"index,omitempty"`

	// Attr is the attribute name (op_attr).
	Attr string `yaml:"attr,omitempty"`

	Var string `yaml:"var,omitempty"`

	// Present defaults to true (has_var).
	Present *bool `yaml:"present,omitempty"`

	// Pass and Key select a summary entry (summary).
	Pass string `yaml:"pass,omitempty"`
	Key  string `yaml:"key,omitempty"`

	// Value is the expected attribute or summary value, compared through
	// canonical JSON.
	Value any `yaml:"value,omitempty"`

	// Count is used by op_count and pass_runs.
	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertOpCount  = "op_count"
	AssertOpOrder  = "op_order"
	AssertHasVar   = "has_var"
	AssertOpAttr   = "op_attr"
	AssertSummary  = "summary"
	AssertPassRuns = "pass_runs"
)

// Program role names used by assertions.
const (
	ProgramMain    = "main"
	ProgramStartup = "startup"
)

// LoadScenario reads and validates the scenario file at path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes scenario YAML. Unknown keys are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	s := new(Scenario)
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return s, nil
}

func (s *Scenario) validate() error {
	switch {
	case s.Name == "":
		return errors.New("name is required")
	case s.Description == "":
		return errors.New("description is required")
	case len(s.Program.Params) == 0:
		return errors.New("program.params is required and must be non-empty")
	case len(s.Passes) == 0:
		return errors.New("passes list is required and must be non-empty")
	}
	if err := s.Program.validate(); err != nil {
		return err
	}

	registered := passes.Names()
	for i, step := range s.Passes {
		if step.Pass == "" {
			return fmt.Errorf("passes[%d]: pass is required", i)
		}
		if !slices.Contains(registered, step.Pass) {
			return fmt.Errorf("passes[%d]: unknown pass %q (registered: %v)", i, step.Pass, registered)
		}
	}

	for i := range s.Assertions {
		if msg := s.Assertions[i].problem(); msg != "" {
			return fmt.Errorf("assertions[%d]: %s", i, msg)
		}
	}
	return nil
}

func (p ProgramSpec) validate() error {
	names := make(map[string]struct{}, len(p.Params))
	for i, ps := range p.Params {
		if ps.Name == "" {
			return fmt.Errorf("program.params[%d]: name is required", i)
		}
		if _, dup := names[ps.Name]; dup {
			return fmt.Errorf("program.params[%d]: duplicate parameter %q", i, ps.Name)
		}
		names[ps.Name] = struct{}{}
	}
	if p.Optimizer != "" && p.Optimizer != testutil.SGD && p.Optimizer != testutil.Adam {
		return fmt.Errorf("program.optimizer: unsupported optimizer %q", p.Optimizer)
	}
	return nil
}

// problem describes what is missing from a, or returns "".
func (a *Assertion) problem() string {
	if a.Type == "" {
		return "type is required"
	}
	if a.Program != "" && a.Program != ProgramMain && a.Program != ProgramStartup {
		return fmt.Sprintf("program must be %q or %q", ProgramMain, ProgramStartup)
	}
	switch a.Type {
	case AssertOpCount:
		if a.Op == "" {
			return "op is required for op_count"
		}
	case AssertOpOrder:
		if len(a.Ops) == 0 {
			return "ops list is required for op_order"
		}
	case AssertHasVar:
		if a.Var == "" {
			return "var is required for has_var"
		}
	case AssertOpAttr:
		if a.Op == "" || a.Attr == "" {
			return "op and attr are required for op_attr"
		}
		if a.Value == nil {
			return "value is required for op_attr"
		}
	case AssertSummary:
		if a.Pass == "" || a.Key == "" {
			return "pass and key are required for summary"
		}
		if a.Value == nil {
			return "value is required for summary"
		}
	case AssertPassRuns:
	default:
		return fmt.Sprintf("unknown assertion type %q", a.Type)
	}
	if a.Count < 0 {
		return "count must be non-negative"
	}
	return ""
}
