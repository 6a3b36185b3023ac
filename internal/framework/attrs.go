package framework

import (
	"fmt"
	"math"
	"reflect"

	"github.com/roach88/graphir/internal/ir"
	"github.com/roach88/graphir/internal/schema"
)

// canonicalizeAttrs binds raw attribute values to the schema's declared
// types and fills declared defaults. Bookkeeping attributes are left to
// the caller.
func canonicalizeAttrs(s *schema.OpSchema, raw map[string]any, b *Block) (map[string]ir.Attr, error) {
	out := make(map[string]ir.Attr, len(s.Attrs))
	for _, name := range ir.SortedKeys(raw) {
		slot, ok := s.Attr(name)
		if !ok {
			return nil, &IRError{Code: ErrCodeUnknownAttribute, Op: s.Type, Slot: name, Message: "attribute not declared"}
		}
		a, err := canonicalize(slot, raw[name], b)
		if err != nil {
			err.Op = s.Type
			return nil, err
		}
		out[name] = a
	}
	for _, slot := range s.Attrs {
		if _, ok := out[slot.Name]; ok || schema.IsBookkeepingAttr(slot.Name) {
			continue
		}
		switch {
		case slot.Default != nil:
			out[slot.Name] = ir.CloneAttr(slot.Default)
		case slot.Required:
			return nil, &IRError{Code: ErrCodeMissingAttribute, Op: s.Type, Slot: slot.Name,
				Message: fmt.Sprintf("required %s attribute has no value", slot.Type)}
		}
	}
	return out, nil
}

// canonicalize converts one raw value to the slot's attribute type.
func canonicalize(slot schema.AttrSlot, v any, b *Block) (ir.Attr, *IRError) {
	mismatch := func(detail string) *IRError {
		msg := fmt.Sprintf("expected %s, got %T", slot.Type, v)
		if detail != "" {
			msg += ": " + detail
		}
		return &IRError{Code: ErrCodeAttrTypeMismatch, Slot: slot.Name, Message: msg}
	}
	if v == nil {
		return nil, mismatch("nil value")
	}
	if a, ok := v.(ir.Attr); ok && a.Type() == slot.Type {
		if err := checkAttrRefs(slot, a, b); err != nil {
			return nil, err
		}
		return a, nil
	}

	switch slot.Type {
	case ir.AttrBool:
		x, ok := v.(bool)
		if !ok {
			return nil, mismatch("")
		}
		return ir.Bool(x), nil
	case ir.AttrString:
		x, ok := v.(string)
		if !ok {
			return nil, mismatch("")
		}
		return ir.String(x), nil
	case ir.AttrInt:
		n, err := toInt32(v)
		if err != "" {
			return nil, mismatch(err)
		}
		return ir.Int32(n), nil
	case ir.AttrLong:
		n, ok := toInt64(v)
		if !ok {
			return nil, mismatch("")
		}
		return ir.Int64(n), nil
	case ir.AttrFloat:
		f, err := toFloat32(v)
		if err != "" {
			return nil, mismatch(err)
		}
		return ir.Float32(f), nil
	case ir.AttrFloat64:
		f, ok := toFloat64(v)
		if !ok {
			return nil, mismatch("")
		}
		return ir.Float64(f), nil
	case ir.AttrBools:
		xs, err := mapList(v, func(e any) (bool, string) {
			x, ok := e.(bool)
			return x, failIf(!ok, "element %T", e)
		})
		if err != "" {
			return nil, mismatch(err)
		}
		return ir.Bools(xs), nil
	case ir.AttrStrings:
		xs, err := mapList(v, func(e any) (string, string) {
			x, ok := e.(string)
			return x, failIf(!ok, "element %T", e)
		})
		if err != "" {
			return nil, mismatch(err)
		}
		return ir.Strings(xs), nil
	case ir.AttrInts:
		xs, err := mapList(v, toInt32)
		if err != "" {
			return nil, mismatch(err)
		}
		return ir.Int32s(xs), nil
	case ir.AttrLongs:
		xs, err := mapList(v, func(e any) (int64, string) {
			n, ok := toInt64(e)
			return n, failIf(!ok, "element %T", e)
		})
		if err != "" {
			return nil, mismatch(err)
		}
		return ir.Int64s(xs), nil
	case ir.AttrFloats:
		xs, err := mapList(v, toFloat32)
		if err != "" {
			return nil, mismatch(err)
		}
		return ir.Float32s(xs), nil
	case ir.AttrFloat64s:
		xs, err := mapList(v, func(e any) (float64, string) {
			f, ok := toFloat64(e)
			return f, failIf(!ok, "element %T", e)
		})
		if err != "" {
			return nil, mismatch(err)
		}
		return ir.Float64s(xs), nil
	case ir.AttrScalar:
		s, err := ir.NewScalar(v)
		if err != nil {
			return nil, mismatch(err.Error())
		}
		return s, nil
	case ir.AttrScalars:
		var out ir.Scalars
		if err := flattenScalars(v, &out); err != "" {
			return nil, mismatch(err)
		}
		return out, nil
	case ir.AttrVar:
		name, ok := varName(v)
		if !ok {
			return nil, mismatch("")
		}
		a := ir.VarRef(name)
		if err := checkAttrRefs(slot, a, b); err != nil {
			return nil, err
		}
		return a, nil
	case ir.AttrVars:
		names, err := mapList(v, func(e any) (string, string) {
			n, ok := varName(e)
			return n, failIf(!ok, "element %T", e)
		})
		if err != "" {
			return nil, mismatch(err)
		}
		a := ir.VarRefs(names)
		if err := checkAttrRefs(slot, a, b); err != nil {
			return nil, err
		}
		return a, nil
	case ir.AttrBlock:
		idx, ok := blockIndex(v)
		if !ok {
			return nil, mismatch("")
		}
		a := ir.BlockRef(idx)
		if err := checkAttrRefs(slot, a, b); err != nil {
			return nil, err
		}
		return a, nil
	case ir.AttrBlocks:
		idxs, err := mapList(v, func(e any) (int, string) {
			i, ok := blockIndex(e)
			return i, failIf(!ok, "element %T", e)
		})
		if err != "" {
			return nil, mismatch(err)
		}
		a := ir.BlockRefs(idxs)
		if err := checkAttrRefs(slot, a, b); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, mismatch("unsupported attribute type")
}

// checkAttrRefs resolves variable references lexically from b and checks
// block references are in range.
func checkAttrRefs(slot schema.AttrSlot, a ir.Attr, b *Block) *IRError {
	var names []string
	var blocks []int
	switch x := a.(type) {
	case ir.VarRef:
		names = []string{string(x)}
	case ir.VarRefs:
		names = x
	case ir.BlockRef:
		blocks = []int{int(x)}
	case ir.BlockRefs:
		blocks = x
	}
	for _, n := range names {
		if b.FindVarRecursive(n) == nil {
			return &IRError{Code: ErrCodeVariableNotFound, Slot: slot.Name, Var: n,
				Message: "attribute references an unknown variable"}
		}
	}
	for _, idx := range blocks {
		if idx < 0 || idx >= b.prog.NumBlocks() {
			return &IRError{Code: ErrCodeAttrTypeMismatch, Slot: slot.Name,
				Message: fmt.Sprintf("block index %d out of range [0, %d)", idx, b.prog.NumBlocks())}
		}
	}
	return nil
}

func failIf(cond bool, format string, args ...any) string {
	if cond {
		return fmt.Sprintf(format, args...)
	}
	return ""
}

// mapList converts any slice or array element-wise.
func mapList[T any](v any, f func(any) (T, string)) ([]T, string) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, "not a list"
	}
	out := make([]T, rv.Len())
	for i := range out {
		x, err := f(rv.Index(i).Interface())
		if err != "" {
			return nil, fmt.Sprintf("[%d]: %s", i, err)
		}
		out[i] = x
	}
	return out, ""
}

func flattenScalars(v any, out *ir.Scalars) string {
	if s, err := ir.NewScalar(v); err == nil {
		*out = append(*out, s)
		return ""
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Sprintf("cannot wrap %T in a scalar", v)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := flattenScalars(rv.Index(i).Interface(), out); err != "" {
			return err
		}
	}
	if *out == nil {
		*out = ir.Scalars{}
	}
	return ""
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case ir.Int32:
		return int64(x), true
	case ir.Int64:
		return int64(x), true
	}
	return 0, false
}

// toInt32 never narrows silently: values outside the int32 range fail.
func toInt32(v any) (int32, string) {
	n, ok := toInt64(v)
	if !ok {
		return 0, fmt.Sprintf("%T is not an integer", v)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Sprintf("%d overflows int32", n)
	}
	return int32(n), ""
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case ir.Float32:
		return float64(x), true
	case ir.Float64:
		return float64(x), true
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

func toFloat32(v any) (float32, string) {
	f, ok := toFloat64(v)
	if !ok {
		return 0, fmt.Sprintf("%T is not a number", v)
	}
	if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
		return 0, fmt.Sprintf("%g overflows float32", f)
	}
	return float32(f), ""
}

func varName(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case ir.VarRef:
		return string(x), true
	case *Variable:
		if x != nil {
			return x.Name(), true
		}
	case *Parameter:
		if x != nil {
			return x.Name(), true
		}
	}
	return "", false
}

func blockIndex(v any) (int, bool) {
	switch x := v.(type) {
	case *Block:
		if x == nil {
			return 0, false
		}
		return x.Index(), true
	case ir.BlockRef:
		return int(x), true
	}
	n, ok := toInt64(v)
	return int(n), ok
}
