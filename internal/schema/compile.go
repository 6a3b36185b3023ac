package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"github.com/gomlx/exceptions"

	"github.com/roach88/graphir/internal/ir"
)

//go:embed defs.cue
var defsCUE []byte

//go:embed ops.cue
var opsCUE []byte

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the built-in registry, compiling it on first use.
// A broken built-in table is a programming error and panics.
func Default() *Registry {
	defaultOnce.Do(func() {
		schemas, err := CompileSource("ops.cue", opsCUE)
		if err != nil {
			exceptions.Panicf("built-in operator schemas: %v", err)
		}
		r, err := NewRegistry(schemas...)
		if err != nil {
			exceptions.Panicf("built-in operator schemas: %v", err)
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// CompileError reports a schema that failed to parse, with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileSource compiles CUE source text holding an `ops` struct.
func CompileSource(filename string, src []byte) ([]*OpSchema, error) {
	ctx := cuecontext.New()
	defs := ctx.CompileBytes(defsCUE, cue.Filename("defs.cue"))
	v := ctx.CompileBytes(src, cue.Filename(filename)).Unify(defs)
	return CompileSchemas(v)
}

// LoadDir loads every CUE file of the package in dir and compiles its `ops`.
func LoadDir(dir string) ([]*OpSchema, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	if inst := instances[0]; inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}

	ctx := cuecontext.New()
	defs := ctx.CompileBytes(defsCUE, cue.Filename("defs.cue"))
	v := ctx.BuildInstance(instances[0]).Unify(defs)
	return CompileSchemas(v)
}

// CompileSchemas parses every operator under the `ops` field of v,
// in declaration order.
func CompileSchemas(v cue.Value) ([]*OpSchema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	opsVal := v.LookupPath(cue.ParsePath("ops"))
	if !opsVal.Exists() {
		return nil, &CompileError{Field: "ops", Message: "no ops struct found", Pos: v.Pos()}
	}
	if err := opsVal.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	iter, err := opsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var schemas []*OpSchema
	for iter.Next() {
		s, err := CompileOp(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	if len(schemas) == 0 {
		return nil, &CompileError{Field: "ops", Message: "no operators defined", Pos: opsVal.Pos()}
	}
	return schemas, nil
}

// CompileOp parses a single operator struct.
func CompileOp(opType string, v cue.Value) (*OpSchema, error) {
	s := &OpSchema{Type: opType}

	if doc := v.LookupPath(cue.ParsePath("doc")); doc.Exists() {
		str, err := doc.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		s.Doc = str
	}

	var err error
	if s.Inputs, err = parseSlots(v, "inputs"); err != nil {
		return nil, err
	}
	if s.Outputs, err = parseSlots(v, "outputs"); err != nil {
		return nil, err
	}
	if s.Attrs, err = parseAttrs(v); err != nil {
		return nil, err
	}
	return s, nil
}

func parseSlots(v cue.Value, field string) ([]Slot, error) {
	slotsVal := v.LookupPath(cue.ParsePath(field))
	if !slotsVal.Exists() {
		return nil, nil
	}
	iter, err := slotsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var slots []Slot
	for iter.Next() {
		slot := Slot{Name: iter.Selector().Unquoted()}
		for _, flag := range []struct {
			name string
			dst  *bool
		}{
			{"duplicable", &slot.Duplicable},
			{"dispensable", &slot.Dispensable},
			{"intermediate", &slot.Intermediate},
		} {
			fv := iter.Value().LookupPath(cue.ParsePath(flag.name))
			if !fv.Exists() {
				continue
			}
			b, err := fv.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			*flag.dst = b
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func parseAttrs(v cue.Value) ([]AttrSlot, error) {
	attrsVal := v.LookupPath(cue.ParsePath("attrs"))
	if !attrsVal.Exists() {
		return nil, nil
	}
	iter, err := attrsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var attrs []AttrSlot
	for iter.Next() {
		name := iter.Selector().Unquoted()
		av := iter.Value()

		typeName, err := av.LookupPath(cue.ParsePath("type")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		typ, err := ir.ParseAttrType(typeName)
		if err != nil {
			return nil, &CompileError{Field: name, Message: err.Error(), Pos: av.Pos()}
		}
		slot := AttrSlot{Name: name, Type: typ}

		if rv := av.LookupPath(cue.ParsePath("required")); rv.Exists() {
			if slot.Required, err = rv.Bool(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		if dv := av.LookupPath(cue.ParsePath("default")); dv.Exists() {
			def, err := parseDefault(typ, dv)
			if err != nil {
				return nil, &CompileError{Field: name, Message: err.Error(), Pos: dv.Pos()}
			}
			slot.Default = def
		}
		attrs = append(attrs, slot)
	}
	return attrs, nil
}

// parseDefault converts a CUE default value to the attribute's declared type.
func parseDefault(typ ir.AttrType, v cue.Value) (ir.Attr, error) {
	switch typ {
	case ir.AttrInt:
		n, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return ir.Int32(n), nil
	case ir.AttrLong:
		n, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return ir.Int64(n), nil
	case ir.AttrFloat:
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return ir.Float32(f), nil
	case ir.AttrFloat64:
		f, err := v.Float64()
		return ir.Float64(f), err
	case ir.AttrBool:
		b, err := v.Bool()
		return ir.Bool(b), err
	case ir.AttrString:
		s, err := v.String()
		return ir.String(s), err
	case ir.AttrScalar:
		return parseScalar(v)
	case ir.AttrInts:
		return parseList(v, func(e cue.Value) (int32, error) {
			n, err := e.Int64()
			return int32(n), err
		}, func(xs []int32) ir.Attr { return ir.Int32s(xs) })
	case ir.AttrLongs:
		return parseList(v, cue.Value.Int64, func(xs []int64) ir.Attr { return ir.Int64s(xs) })
	case ir.AttrFloats:
		return parseList(v, func(e cue.Value) (float32, error) {
			f, err := e.Float64()
			return float32(f), err
		}, func(xs []float32) ir.Attr { return ir.Float32s(xs) })
	case ir.AttrFloat64s:
		return parseList(v, cue.Value.Float64, func(xs []float64) ir.Attr { return ir.Float64s(xs) })
	case ir.AttrBools:
		return parseList(v, cue.Value.Bool, func(xs []bool) ir.Attr { return ir.Bools(xs) })
	case ir.AttrStrings:
		return parseList(v, cue.Value.String, func(xs []string) ir.Attr { return ir.Strings(xs) })
	case ir.AttrScalars:
		return parseList(v, parseScalar, func(xs []ir.Scalar) ir.Attr { return ir.Scalars(xs) })
	}
	return nil, fmt.Errorf("attribute type %s cannot declare a default", typ)
}

func parseScalar(v cue.Value) (ir.Scalar, error) {
	switch v.Kind() {
	case cue.BoolKind:
		b, err := v.Bool()
		return ir.BoolScalar(b), err
	case cue.IntKind:
		n, err := v.Int64()
		return ir.IntScalar(n), err
	case cue.FloatKind:
		f, err := v.Float64()
		return ir.FloatScalar(f), err
	}
	return ir.Scalar{}, fmt.Errorf("scalar default must be a bool or a number, got %s", v.Kind())
}

func parseList[T any](v cue.Value, elem func(cue.Value) (T, error), wrap func([]T) ir.Attr) (ir.Attr, error) {
	iter, err := v.List()
	if err != nil {
		return nil, err
	}
	out := []T{}
	for iter.Next() {
		x, err := elem(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return wrap(out), nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
