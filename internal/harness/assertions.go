package harness

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/ir"
	"github.com/roach88/graphir/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Ops      []string // Op types of the program under test
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Ops) > 0 {
		fmt.Fprintf(&buf, "\nOps:\n")
		for i, op := range e.Ops {
			fmt.Fprintf(&buf, "  [%d] %s\n", i, op)
		}
	}

	return buf.String()
}

// AssertionContext provides what store-backed assertions need.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	p := result.Program(a.Program)
	if p == nil {
		return fmt.Errorf("no %q program in result", a.Program)
	}
	switch a.Type {
	case AssertOpCount:
		return assertOpCount(p, a)
	case AssertOpOrder:
		return assertOpOrder(p, a)
	case AssertHasVar:
		return assertHasVar(p, a)
	case AssertOpAttr:
		return assertOpAttr(p, a)
	case AssertSummary:
		return assertSummary(result, a)
	case AssertPassRuns:
		return assertPassRuns(actx, result.Main, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// opTypes lists the op types of every block of p in order.
func opTypes(p *framework.Program) []string {
	var out []string
	for _, b := range p.Blocks() {
		for _, op := range b.Ops() {
			out = append(out, op.Type())
		}
	}
	return out
}

// assertOpCount checks that an op type appears exactly Count times.
func assertOpCount(p *framework.Program, a Assertion) error {
	ops := opTypes(p)
	count := 0
	for _, t := range ops {
		if t == a.Op {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertOpCount,
			Expected: fmt.Sprintf("%d %s ops in %s", a.Count, a.Op, p.ID()),
			Actual:   fmt.Sprintf("%d ops", count),
			Ops:      ops,
		}
	}
	return nil
}

// assertOpOrder checks that op types appear in the given order.
// Ops don't need to be consecutive (intervening ops are allowed).
func assertOpOrder(p *framework.Program, a Assertion) error {
	ops := opTypes(p)
	pos := 0
	for _, want := range a.Ops {
		i := slices.Index(ops[pos:], want)
		if i < 0 {
			return &AssertionError{
				Type:     AssertOpOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual:   fmt.Sprintf("no %s at or after position %d", want, pos),
				Ops:      ops,
			}
		}
		pos += i + 1
	}
	return nil
}

func assertHasVar(p *framework.Program, a Assertion) error {
	want := a.Present == nil || *a.Present
	got := false
	for _, v := range p.ListVars() {
		if v.Name() == a.Var {
			got = true
			break
		}
	}
	if got != want {
		expected := "declared"
		if !want {
			expected = "not declared"
		}
		return &AssertionError{
			Type:     AssertHasVar,
			Expected: fmt.Sprintf("variable %s %s in %s", a.Var, expected, p.ID()),
			Actual:   fmt.Sprintf("present=%t", got),
		}
	}
	return nil
}

// assertOpAttr checks an attribute of the Index-th op of type Op.
func assertOpAttr(p *framework.Program, a Assertion) error {
	seen := 0
	for _, b := range p.Blocks() {
		for _, op := range b.Ops() {
			if op.Type() != a.Op {
				continue
			}
			if seen < a.Index {
				seen++
				continue
			}
			attr, ok := op.Attr(a.Attr)
			if !ok {
				return &AssertionError{
					Type:     AssertOpAttr,
					Expected: fmt.Sprintf("%s[%d] to carry %s", a.Op, a.Index, a.Attr),
					Actual:   fmt.Sprintf("attributes %v", op.AttrNames()),
				}
			}
			return compareValues(AssertOpAttr, fmt.Sprintf("%s[%d].%s", a.Op, a.Index, a.Attr), a.Value, attr)
		}
	}
	return &AssertionError{
		Type:     AssertOpAttr,
		Expected: fmt.Sprintf("at least %d %s ops", a.Index+1, a.Op),
		Actual:   fmt.Sprintf("%d ops", seen),
		Ops:      opTypes(p),
	}
}

// assertSummary checks an entry of the last successful summary of Pass.
func assertSummary(result *Result, a Assertion) error {
	for i := len(result.Steps) - 1; i >= 0; i-- {
		step := result.Steps[i]
		if step.Pass != a.Pass || step.Summary == nil {
			continue
		}
		got, ok := step.Summary[a.Key]
		if !ok {
			return &AssertionError{
				Type:     AssertSummary,
				Expected: fmt.Sprintf("%s summary key %q", a.Pass, a.Key),
				Actual:   fmt.Sprintf("keys %v", ir.SortedKeys(step.Summary)),
			}
		}
		return compareValues(AssertSummary, a.Pass+"."+a.Key, a.Value, got)
	}
	return &AssertionError{
		Type:     AssertSummary,
		Expected: fmt.Sprintf("a successful %s step", a.Pass),
		Actual:   "none",
	}
}

func assertPassRuns(actx *AssertionContext, main *framework.Program, a Assertion) error {
	if actx == nil || actx.Store == nil {
		return fmt.Errorf("pass_runs assertion requires a store")
	}
	ctx := actx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	runs, err := actx.Store.PassRuns(ctx, main.ID())
	if err != nil {
		return err
	}
	if len(runs) != a.Count {
		return &AssertionError{
			Type:     AssertPassRuns,
			Expected: fmt.Sprintf("%d pass runs for %s", a.Count, main.ID()),
			Actual:   fmt.Sprintf("%d runs", len(runs)),
		}
	}
	return nil
}

// compareValues compares through canonical JSON so YAML numbers and lists
// match their typed counterparts.
func compareValues(kind, what string, expected, actual any) error {
	want, err := ir.MarshalCanonical(expected)
	if err != nil {
		return fmt.Errorf("%s: expected value: %w", what, err)
	}
	got, err := ir.MarshalCanonical(actual)
	if err != nil {
		return fmt.Errorf("%s: actual value: %w", what, err)
	}
	if !bytes.Equal(want, got) {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%s = %s", what, want),
			Actual:   fmt.Sprintf("%s = %s", what, got),
		}
	}
	return nil
}
