package framework

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/roach88/graphir/internal/desc"
	"github.com/roach88/graphir/internal/ir"
)

// Variable is a named value slot of a block. Its metadata lives in the
// backing description; the Variable adds the producer back-reference.
type Variable struct {
	desc  *desc.VarDesc
	block *Block

	// producer is the handle of the first operator that wrote the
	// variable, 0 when unknown.
	producer int64
}

// VarOptions declares a variable. The zero value declares a dense tensor
// with unspecified shape and dtype.
type VarOptions struct {
	// Name is drawn from the program's generator when empty.
	Name string
	Kind ir.VarKind

	// Shape nil leaves the shape unspecified. Negative dims are unknown.
	Shape []int64

	// DType dtypes.InvalidDType leaves the dtype unspecified.
	DType         dtypes.DType
	LoDLevel      int
	Persistable   bool
	StopGradient  bool
	NeedCheckFeed bool
}

func (v *Variable) Name() string        { return v.desc.Name() }
func (v *Variable) Kind() ir.VarKind    { return v.desc.Kind() }
func (v *Variable) Shape() []int64      { return v.desc.Shape() }
func (v *Variable) DType() dtypes.DType { return v.desc.DType() }
func (v *Variable) LoDLevel() int       { return v.desc.LoDLevel() }
func (v *Variable) Persistable() bool   { return v.desc.Persistable() }
func (v *Variable) IsParameter() bool   { return v.desc.IsParameter() }
func (v *Variable) StopGradient() bool  { return v.desc.StopGradient() }
func (v *Variable) NeedCheckFeed() bool { return v.desc.NeedCheckFeed() }
func (v *Variable) Block() *Block       { return v.block }
func (v *Variable) Desc() *desc.VarDesc { return v.desc }

// NumElements returns the element count; ok is false for unknown dims.
func (v *Variable) NumElements() (int64, bool) { return v.desc.NumElements() }

// Producer returns the operator that first wrote v, nil when unknown or
// when that operator has been removed.
func (v *Variable) Producer() *Operator {
	if v.block == nil {
		return nil
	}
	return v.block.prog.opByHandle(v.producer)
}

func (v *Variable) SetStopGradient(s bool) {
	v.block.prog.commit(func() { v.desc.SetStopGradient(s) })
}

func (v *Variable) SetShape(shape []int64) {
	v.block.prog.commit(func() { v.desc.SetShape(shape) })
}

func (v *Variable) SetDType(dt dtypes.DType) {
	v.block.prog.commit(func() { v.desc.SetDType(dt) })
}

func (v *Variable) SetPersistable(p bool) {
	v.block.prog.commit(func() { v.desc.SetPersistable(p) })
}

func (v *Variable) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "var %s : %s", v.Name(), v.Kind())
	if v.Kind().HasTensorMeta() {
		fmt.Fprintf(&sb, " %s %s", dtypeName(v.DType()), shapeString(v.desc.Shape()))
		if l := v.LoDLevel(); l > 0 {
			fmt.Fprintf(&sb, " lod=%d", l)
		}
	}
	if v.Persistable() {
		sb.WriteString(" persistable")
	}
	if v.StopGradient() {
		sb.WriteString(" stop_gradient")
	}
	return sb.String()
}

// conflict reports the first metadata field where opts disagrees with v.
// Shape and dtype are compared only when opts specifies them.
func (v *Variable) conflict(opts VarOptions) string {
	switch {
	case v.Kind() != opts.Kind:
		return fmt.Sprintf("kind %s, was %s", opts.Kind, v.Kind())
	case opts.Shape != nil && !slices.Equal(v.desc.Shape(), opts.Shape):
		return fmt.Sprintf("shape %s, was %s", shapeString(opts.Shape), shapeString(v.desc.Shape()))
	case opts.DType != dtypes.InvalidDType && v.DType() != opts.DType:
		return fmt.Sprintf("dtype %s, was %s", opts.DType, v.DType())
	case v.LoDLevel() != opts.LoDLevel:
		return fmt.Sprintf("lod level %d, was %d", opts.LoDLevel, v.LoDLevel())
	case v.Persistable() != opts.Persistable:
		return fmt.Sprintf("persistable %t, was %t", opts.Persistable, v.Persistable())
	}
	return ""
}

// Parameter is a persistable, trainable variable of the global block.
type Parameter struct {
	*Variable

	optimizeAttrs  map[string]float64
	regularizer    string
	needClip       bool
	doModelAverage bool
	isDistributed  bool
}

// ParamOptions declares a parameter.
type ParamOptions struct {
	Name string

	// Shape must be non-nil with non-negative dims.
	Shape []int64
	DType dtypes.DType

	// Frozen parameters are not trained: they get stop-gradient.
	Frozen bool

	// OptimizeAttrs defaults to {"learning_rate": 1.0}.
	OptimizeAttrs  map[string]float64
	Regularizer    string
	SkipClip       bool
	DoModelAverage bool
	IsDistributed  bool
}

// DefaultLearningRate is the per-parameter learning-rate multiplier.
const DefaultLearningRate = 1.0

func newParameter(v *Variable) *Parameter {
	return &Parameter{
		Variable:      v,
		optimizeAttrs: map[string]float64{"learning_rate": DefaultLearningRate},
		needClip:      true,
	}
}

func (p *Parameter) Trainable() bool { return !p.StopGradient() }

// SetTrainable toggles training; stop-gradient follows.
func (p *Parameter) SetTrainable(t bool) { p.SetStopGradient(!t) }

// OptimizeAttrs returns a copy of the per-parameter optimizer settings.
func (p *Parameter) OptimizeAttrs() map[string]float64 { return maps.Clone(p.optimizeAttrs) }

func (p *Parameter) Regularizer() string  { return p.regularizer }
func (p *Parameter) NeedClip() bool       { return p.needClip }
func (p *Parameter) DoModelAverage() bool { return p.doModelAverage }
func (p *Parameter) IsDistributed() bool  { return p.isDistributed }

func (p *Parameter) SetIsDistributed(d bool) { p.isDistributed = d }

func (p *Parameter) copyExtras(from *Parameter) {
	p.optimizeAttrs = maps.Clone(from.optimizeAttrs)
	p.regularizer = from.regularizer
	p.needClip = from.needClip
	p.doModelAverage = from.doModelAverage
	p.isDistributed = from.isDistributed
}

func (p *Parameter) String() string {
	s := "param" + strings.TrimPrefix(p.Variable.String(), "var")
	if !p.Trainable() {
		s += " frozen"
	}
	if p.isDistributed {
		s += " distributed"
	}
	return s
}

// GradSuffix marks the gradient variable of a forward variable.
const GradSuffix = "@GRAD"

// GradVarName returns the name of the gradient variable for name.
func GradVarName(name string) string { return name + GradSuffix }

// Names returns the names of vars, in order.
func Names(vars ...*Variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name()
	}
	return out
}

func shapeString(shape []int64) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		if d < 0 {
			parts[i] = "?"
		} else {
			parts[i] = fmt.Sprint(d)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func dtypeName(dt dtypes.DType) string {
	if dt == dtypes.InvalidDType {
		return "?"
	}
	return strings.ToLower(dt.String())
}
