package ir

import (
	"fmt"
	"strconv"
)

// ScalarKind tags the numeric subtype held by a Scalar.
type ScalarKind uint8

const (
	ScalarBool ScalarKind = iota
	ScalarInt
	ScalarFloat
	ScalarComplex
)

func (k ScalarKind) String() string {
	switch k {
	case ScalarBool:
		return "bool"
	case ScalarInt:
		return "int64"
	case ScalarFloat:
		return "float64"
	case ScalarComplex:
		return "complex128"
	}
	return fmt.Sprintf("ScalarKind(%d)", uint8(k))
}

// Scalar is a tagged numeric union. The same source literal may need to
// bind to an int, a float or a bool depending on the operator, so the
// subtype travels with the value instead of being re-inferred later.
type Scalar struct {
	kind ScalarKind
	b    bool
	i    int64
	f    float64
	c    complex128
}

func BoolScalar(v bool) Scalar          { return Scalar{kind: ScalarBool, b: v} }
func IntScalar(v int64) Scalar          { return Scalar{kind: ScalarInt, i: v} }
func FloatScalar(v float64) Scalar      { return Scalar{kind: ScalarFloat, f: v} }
func ComplexScalar(v complex128) Scalar { return Scalar{kind: ScalarComplex, c: v} }

// NewScalar wraps a Go literal, inferring the subtype from its runtime type.
func NewScalar(v any) (Scalar, error) {
	switch x := v.(type) {
	case Scalar:
		return x, nil
	case bool:
		return BoolScalar(x), nil
	case int:
		return IntScalar(int64(x)), nil
	case int8:
		return IntScalar(int64(x)), nil
	case int16:
		return IntScalar(int64(x)), nil
	case int32:
		return IntScalar(int64(x)), nil
	case int64:
		return IntScalar(x), nil
	case uint8:
		return IntScalar(int64(x)), nil
	case uint16:
		return IntScalar(int64(x)), nil
	case uint32:
		return IntScalar(int64(x)), nil
	case float32:
		return FloatScalar(float64(x)), nil
	case float64:
		return FloatScalar(x), nil
	case complex64:
		return ComplexScalar(complex128(x)), nil
	case complex128:
		return ComplexScalar(x), nil
	}
	return Scalar{}, fmt.Errorf("cannot wrap %T in a scalar", v)
}

func (s Scalar) Kind() ScalarKind { return s.kind }

// Bool returns the value as a bool; numeric kinds compare against zero.
func (s Scalar) Bool() bool {
	switch s.kind {
	case ScalarBool:
		return s.b
	case ScalarInt:
		return s.i != 0
	case ScalarFloat:
		return s.f != 0
	}
	return s.c != 0
}

// Int returns the value truncated to an int64.
func (s Scalar) Int() int64 {
	switch s.kind {
	case ScalarBool:
		if s.b {
			return 1
		}
		return 0
	case ScalarInt:
		return s.i
	case ScalarFloat:
		return int64(s.f)
	}
	return int64(real(s.c))
}

// Float returns the value as a float64.
func (s Scalar) Float() float64 {
	switch s.kind {
	case ScalarBool:
		if s.b {
			return 1
		}
		return 0
	case ScalarInt:
		return float64(s.i)
	case ScalarFloat:
		return s.f
	}
	return real(s.c)
}

// Complex returns the value as a complex128.
func (s Scalar) Complex() complex128 {
	if s.kind == ScalarComplex {
		return s.c
	}
	return complex(s.Float(), 0)
}

// Value returns the held value with its native Go type.
func (s Scalar) Value() any {
	switch s.kind {
	case ScalarBool:
		return s.b
	case ScalarInt:
		return s.i
	case ScalarFloat:
		return s.f
	}
	return s.c
}

func (s Scalar) String() string {
	var v string
	switch s.kind {
	case ScalarBool:
		v = strconv.FormatBool(s.b)
	case ScalarInt:
		v = strconv.FormatInt(s.i, 10)
	case ScalarFloat:
		v = formatFloat(s.f, 64)
	default:
		v = strconv.FormatComplex(s.c, 'g', -1, 128)
	}
	return "scalar<" + s.kind.String() + ">(" + v + ")"
}
