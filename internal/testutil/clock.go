package testutil

import (
	"strconv"
	"sync"
	"time"
)

// Epoch is the first instant a StepClock reports.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// StepClock is a deterministic clock for store and harness tests. Every
// call to Now advances it by one second, so recorded timestamps are
// distinct and reproducible. Safe for concurrent use.
type StepClock struct {
	mu    sync.Mutex
	steps int64
}

// NewStepClock creates a clock whose first Now returns Epoch.
func NewStepClock() *StepClock {
	return &StepClock{}
}

// Now returns the current instant and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.steps) * time.Second)
	c.steps++
	return t
}

// Steps returns how many times Now has been called.
func (c *StepClock) Steps() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steps
}

// Reset rewinds the clock to Epoch.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = 0
}

// SequentialIDs generates program IDs "<prefix>-1", "<prefix>-2", ...
// It implements desc.IDGenerator and never runs out.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator; an empty prefix means "prog".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "prog"
	}
	return &SequentialIDs{prefix: prefix}
}

func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.prefix + "-" + strconv.Itoa(g.n)
}
