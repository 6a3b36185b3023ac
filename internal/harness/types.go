package harness

import "github.com/roach88/graphir/internal/framework"

// StepResult is the outcome of one pass step.
type StepResult struct {
	Pass string

	// ErrorCode is the IR or pass error code when the pass failed.
	ErrorCode string
	Error     string

	// Summary is what the pass recorded, nil on failure.
	Summary map[string]any

	MainBefore    string
	MainAfter     string
	StartupBefore string
	StartupAfter  string
}

// Failed reports whether the pass returned an error.
func (s StepResult) Failed() bool { return s.Error != "" }

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool

	Steps []StepResult

	// Errors contains validation error messages.
	Errors []string

	Main    *framework.Program
	Startup *framework.Program
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Program returns the main or startup program by role name.
func (r *Result) Program(name string) *framework.Program {
	switch name {
	case ProgramMain, "":
		return r.Main
	case ProgramStartup:
		return r.Startup
	}
	return nil
}
