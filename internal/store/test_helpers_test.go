package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/graphir/internal/testutil"
)

// createTestStore opens a fresh store in a temp dir with a step clock.
func createTestStore(t *testing.T) (*Store, *testutil.StepClock) {
	t.Helper()
	clock := testutil.NewStepClock()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// createTestPassRun creates a pass run with minimal required fields.
func createTestPassRun(mainID string) PassRun {
	return PassRun{
		Pass:           "auto_parallel_sharding",
		Config:         map[string]any{"stage": 1, "sharding_degree": 2},
		MainProgram:    mainID,
		StartupProgram: mainID + "-startup",
		MainBefore:     "before",
		MainAfter:      "after",
		StartupBefore:  "s-before",
		StartupAfter:   "s-after",
	}
}
