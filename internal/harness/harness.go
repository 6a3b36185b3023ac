package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"

	"github.com/gomlx/exceptions"

	"github.com/roach88/graphir/internal/distributed"
	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/passes"
	"github.com/roach88/graphir/internal/store"
	"github.com/roach88/graphir/internal/testutil"
)

// Harness executes one scenario against a fixture training pair.
type Harness struct {
	store  *store.Store
	logger *slog.Logger
	dist   *distributed.DistContext
	pctx   *passes.Context
	tr     *testutil.Training
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger *slog.Logger
	store  *store.Store
}

// WithLogger routes harness and pass logs to l. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore records program versions and pass runs in st instead of a
// fresh in-memory store. The caller keeps ownership of st.
func WithStore(st *store.Store) Option {
	return func(o *options) { o.store = st }
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Open a fresh in-memory store driven by a step clock
//  2. Build the main/startup pair and apply the annotations
//  3. Apply each pass, recording versions and pass runs
//  4. Evaluate the assertions against the final state
//
// An error is returned only when the harness itself cannot proceed; pass
// failures and failed assertions are reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	st := o.store
	if st == nil {
		var err error
		st, err = store.Open(":memory:", store.WithClock(testutil.NewStepClock()))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
	}

	h := &Harness{
		store:  st,
		logger: o.logger,
		dist:   distributed.NewDistContext(),
		tr:     testutil.NewTraining(scenario.Program.options()),
	}
	h.pctx = passes.NewContext(h.dist)

	if scenario.Annotations != nil {
		if err := h.dist.Apply(scenario.Annotations, h.tr.Main, h.tr.Startup); err != nil {
			return nil, fmt.Errorf("failed to apply annotations: %w", err)
		}
	}

	ctx := context.Background()
	if err := h.save(ctx, "initial"); err != nil {
		return nil, err
	}

	result := NewResult()
	result.Main, result.Startup = h.tr.Main, h.tr.Startup
	for i, step := range scenario.Passes {
		sr, err := h.runStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("pass step %d: %w", i, err)
		}
		result.Steps = append(result.Steps, sr)

		if msg := checkExpectation(step, sr); msg != "" {
			result.AddError(fmt.Sprintf("pass step %d (%s): %s", i, step.Pass, msg))
			break
		}
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// runStep applies one pass and records it. Panics raised while building
// or applying the pass are reported as step errors.
func (h *Harness) runStep(ctx context.Context, step PassStep) (StepResult, error) {
	sr := StepResult{Pass: step.Pass}
	attrs := h.stepAttrs(step)

	var err error
	sr.MainBefore, sr.StartupBefore, err = h.fingerprints()
	if err != nil {
		return sr, err
	}

	applied := len(h.pctx.Applied())
	passErr := exceptions.TryCatch[error](func() {
		p, err := passes.New(step.Pass, attrs)
		if err != nil {
			panic(err)
		}
		if err := passes.Run(h.pctx, h.tr.Main, h.tr.Startup, p); err != nil {
			panic(err)
		}
	})

	run := store.PassRun{
		Pass:           step.Pass,
		Config:         attrs,
		MainProgram:    h.tr.Main.ID(),
		StartupProgram: h.tr.Startup.ID(),
		MainBefore:     sr.MainBefore,
		StartupBefore:  sr.StartupBefore,
	}
	if passErr != nil {
		sr.ErrorCode = errorCode(passErr)
		sr.Error = passErr.Error()
		run.ErrorCode, run.ErrorMessage = sr.ErrorCode, sr.Error
		h.logger.Info("pass step failed", "pass", step.Pass, "code", sr.ErrorCode, "error", sr.Error)
	} else {
		if recs := h.pctx.Applied(); len(recs) > applied {
			sr.Summary = recs[len(recs)-1].Summary
		}
		if sr.MainAfter, sr.StartupAfter, err = h.fingerprints(); err != nil {
			return sr, err
		}
		run.MainAfter, run.StartupAfter, run.Summary = sr.MainAfter, sr.StartupAfter, sr.Summary
		if err := h.save(ctx, step.Pass); err != nil {
			return sr, err
		}
		h.logger.Info("pass step completed", "pass", step.Pass,
			"main_before", sr.MainBefore, "main_after", sr.MainAfter)
	}

	if _, err := h.store.RecordPassRun(ctx, run); err != nil {
		return sr, err
	}
	return sr, nil
}

// stepAttrs copies the step attributes. A sharding step without
// params_grads shards every fixture parameter.
func (h *Harness) stepAttrs(step PassStep) map[string]any {
	attrs := maps.Clone(step.Attrs)
	if attrs == nil {
		attrs = map[string]any{}
	}
	if step.Pass != passes.ShardingPassName {
		return attrs
	}
	if _, ok := attrs["params_grads"]; !ok {
		pgs := make([]any, 0, len(h.tr.Params))
		for _, pg := range h.tr.ParamsGrads() {
			pgs = append(pgs, map[string]any{"param": pg[0], "grad": pg[1]})
		}
		attrs["params_grads"] = pgs
	}
	return attrs
}

func (h *Harness) fingerprints() (main, startup string, err error) {
	if main, err = h.tr.Main.Fingerprint(); err != nil {
		return "", "", fmt.Errorf("fingerprint %s: %w", h.tr.Main.ID(), err)
	}
	if startup, err = h.tr.Startup.Fingerprint(); err != nil {
		return "", "", fmt.Errorf("fingerprint %s: %w", h.tr.Startup.ID(), err)
	}
	return main, startup, nil
}

func (h *Harness) save(ctx context.Context, label string) error {
	for _, p := range []*framework.Program{h.tr.Main, h.tr.Startup} {
		if _, _, err := h.store.SaveProgram(ctx, p, label); err != nil {
			return err
		}
	}
	return nil
}

// errorCode extracts the pass or IR error code of err, or "" when err
// carries neither.
func errorCode(err error) string {
	if code, ok := passes.CodeOf(err); ok {
		return string(code)
	}
	if code, ok := framework.CodeOf(err); ok {
		return string(code)
	}
	return ""
}

// checkExpectation compares a step outcome with its expect_error.
func checkExpectation(step PassStep, sr StepResult) string {
	switch {
	case step.ExpectError == "" && sr.Failed():
		return fmt.Sprintf("unexpected error: %s", sr.Error)
	case step.ExpectError != "" && !sr.Failed():
		return fmt.Sprintf("expected error %s, pass succeeded", step.ExpectError)
	case step.ExpectError != "" && sr.ErrorCode != step.ExpectError:
		return fmt.Sprintf("expected error %s, got %q: %s", step.ExpectError, sr.ErrorCode, sr.Error)
	}
	return ""
}
