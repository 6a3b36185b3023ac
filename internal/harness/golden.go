package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/graphir/internal/ir"
)

// Snapshot captures the observable outcome of a scenario: the final op
// sequence of both programs and what each step reported.
type Snapshot struct {
	Name    string
	Main    []string
	Startup []string
	Steps   []StepResult
}

// NewSnapshot builds the snapshot of result under name.
func NewSnapshot(name string, result *Result) Snapshot {
	s := Snapshot{Name: name, Steps: result.Steps}
	if result.Main != nil {
		s.Main = opTypes(result.Main)
	}
	if result.Startup != nil {
		s.Startup = opTypes(result.Startup)
	}
	return s
}

// toCanonicalMap converts the snapshot for ir.MarshalCanonical.
// Fingerprints are left out so the snapshot can be read and edited by hand.
func (s Snapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, step := range s.Steps {
		m := map[string]any{"pass": step.Pass}
		if step.ErrorCode != "" {
			m["error_code"] = step.ErrorCode
		}
		if step.Summary != nil {
			m["summary"] = step.Summary
		}
		steps[i] = m
	}
	main, startup := s.Main, s.Startup
	if main == nil {
		main = []string{}
	}
	if startup == nil {
		startup = []string{}
	}
	return map[string]any{
		"name":    s.Name,
		"main":    main,
		"startup": startup,
		"steps":   steps,
	}
}

// MarshalCanonical encodes the snapshot as canonical JSON.
func (s Snapshot) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against the golden
// file named scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
