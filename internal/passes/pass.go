package passes

import (
	"bytes"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/graphir/internal/distributed"
	"github.com/roach88/graphir/internal/framework"
)

// Pass rewrites a main/startup program pair.
type Pass interface {
	Name() string
	Apply(ctx *Context, main, startup *framework.Program) error
}

// Factory builds a pass from its attributes.
type Factory func(attrs map[string]any) (Pass, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a pass available under name. Registering a name twice
// panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		exceptions.Panicf("pass %q registered twice", name)
	}
	registry[name] = f
}

// New builds the registered pass name from attrs.
func New(name string, attrs map[string]any) (Pass, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown pass %q", name)
	}
	return f(attrs)
}

// Names lists the registered passes in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

// DecodeAttrs converts a loosely typed attribute map into the struct out
// using its yaml tags. Unknown keys are rejected.
func DecodeAttrs(attrs map[string]any, out any) error {
	data, err := yaml.Marshal(attrs)
	if err != nil {
		return errors.Wrap(err, "encode pass attrs")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return errors.Wrap(err, "decode pass attrs")
	}
	return nil
}

// Applied records one successful pass application.
type Applied struct {
	Pass    string
	Summary map[string]any
}

// Context carries what passes share across one pipeline run: the
// distributed annotations and the record of passes already applied.
type Context struct {
	Dist    *distributed.DistContext
	applied []Applied
	attrs   map[string]any
}

func NewContext(dist *distributed.DistContext) *Context {
	if dist == nil {
		dist = distributed.NewDistContext()
	}
	return &Context{Dist: dist, attrs: make(map[string]any)}
}

// Applied returns the passes applied through this context, in order.
func (c *Context) Applied() []Applied { return slices.Clone(c.applied) }

func (c *Context) record(name string, summary map[string]any) {
	c.applied = append(c.applied, Applied{Pass: name, Summary: summary})
}

// Set stores a value other passes of the pipeline may read.
func (c *Context) Set(key string, v any) { c.attrs[key] = v }

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.attrs[key]
	return v, ok
}

// Run applies passes in order and stops at the first error.
func Run(ctx *Context, main, startup *framework.Program, passes ...Pass) error {
	for _, p := range passes {
		slog.Debug("applying pass", "pass", p.Name(), "main", main.ID(), "startup", startup.ID())
		if err := p.Apply(ctx, main, startup); err != nil {
			return errors.WithMessagef(err, "pass %s", p.Name())
		}
	}
	return nil
}
