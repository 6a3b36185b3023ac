package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// AttrType is the declared type of an operator attribute slot.
type AttrType uint8

const (
	AttrInt AttrType = iota + 1
	AttrLong
	AttrFloat
	AttrFloat64
	AttrBool
	AttrString
	AttrInts
	AttrLongs
	AttrFloats
	AttrFloat64s
	AttrBools
	AttrStrings
	AttrScalar
	AttrScalars
	AttrVar
	AttrVars
	AttrBlock
	AttrBlocks
)

var attrTypeNames = map[AttrType]string{
	AttrInt:      "int",
	AttrLong:     "long",
	AttrFloat:    "float",
	AttrFloat64:  "float64",
	AttrBool:     "bool",
	AttrString:   "string",
	AttrInts:     "ints",
	AttrLongs:    "longs",
	AttrFloats:   "floats",
	AttrFloat64s: "float64s",
	AttrBools:    "bools",
	AttrStrings:  "strings",
	AttrScalar:   "scalar",
	AttrScalars:  "scalars",
	AttrVar:      "var",
	AttrVars:     "vars",
	AttrBlock:    "block",
	AttrBlocks:   "blocks",
}

func (t AttrType) String() string {
	if name, ok := attrTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("AttrType(%d)", uint8(t))
}

// ParseAttrType parses the name produced by AttrType.String.
func ParseAttrType(s string) (AttrType, error) {
	for t, name := range attrTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown attribute type %q", s)
}

// IsReference reports whether values of this type refer to variables or
// blocks rather than holding plain data.
func (t AttrType) IsReference() bool {
	switch t {
	case AttrVar, AttrVars, AttrBlock, AttrBlocks:
		return true
	}
	return false
}

// Attr is a sealed interface over operator attribute values.
// Only the types declared in this package implement it.
type Attr interface {
	Type() AttrType
	String() string
	attr()
}

type (
	Bool     bool
	Int32    int32
	Int64    int64
	Float32  float32
	Float64  float64
	String   string
	Bools    []bool
	Int32s   []int32
	Int64s   []int64
	Float32s []float32
	Float64s []float64
	Strings  []string
	Scalars  []Scalar

	// VarRef names a variable resolvable from the operator's block.
	VarRef string
	// VarRefs names a list of variables.
	VarRefs []string
	// BlockRef is the index of a block in the owning program.
	BlockRef int
	// BlockRefs is a list of block indices.
	BlockRefs []int
)

func (Bool) attr()      {}
func (Int32) attr()     {}
func (Int64) attr()     {}
func (Float32) attr()   {}
func (Float64) attr()   {}
func (String) attr()    {}
func (Bools) attr()     {}
func (Int32s) attr()    {}
func (Int64s) attr()    {}
func (Float32s) attr()  {}
func (Float64s) attr()  {}
func (Strings) attr()   {}
func (Scalar) attr()    {}
func (Scalars) attr()   {}
func (VarRef) attr()    {}
func (VarRefs) attr()   {}
func (BlockRef) attr()  {}
func (BlockRefs) attr() {}

func (Bool) Type() AttrType      { return AttrBool }
func (Int32) Type() AttrType     { return AttrInt }
func (Int64) Type() AttrType     { return AttrLong }
func (Float32) Type() AttrType   { return AttrFloat }
func (Float64) Type() AttrType   { return AttrFloat64 }
func (String) Type() AttrType    { return AttrString }
func (Bools) Type() AttrType     { return AttrBools }
func (Int32s) Type() AttrType    { return AttrInts }
func (Int64s) Type() AttrType    { return AttrLongs }
func (Float32s) Type() AttrType  { return AttrFloats }
func (Float64s) Type() AttrType  { return AttrFloat64s }
func (Strings) Type() AttrType   { return AttrStrings }
func (Scalar) Type() AttrType    { return AttrScalar }
func (Scalars) Type() AttrType   { return AttrScalars }
func (VarRef) Type() AttrType    { return AttrVar }
func (VarRefs) Type() AttrType   { return AttrVars }
func (BlockRef) Type() AttrType  { return AttrBlock }
func (BlockRefs) Type() AttrType { return AttrBlocks }

func (v Bool) String() string     { return strconv.FormatBool(bool(v)) }
func (v Int32) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v Int64) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v Float32) String() string  { return formatFloat(float64(v), 32) }
func (v Float64) String() string  { return formatFloat(float64(v), 64) }
func (v String) String() string   { return strconv.Quote(string(v)) }
func (v VarRef) String() string   { return "var(" + string(v) + ")" }
func (v BlockRef) String() string { return "block(" + strconv.Itoa(int(v)) + ")" }

func (v Bools) String() string {
	return formatList(v, func(b bool) string { return strconv.FormatBool(b) })
}

func (v Int32s) String() string {
	return formatList(v, func(n int32) string { return strconv.FormatInt(int64(n), 10) })
}

func (v Int64s) String() string {
	return formatList(v, func(n int64) string { return strconv.FormatInt(n, 10) })
}

func (v Float32s) String() string {
	return formatList(v, func(f float32) string { return formatFloat(float64(f), 32) })
}

func (v Float64s) String() string {
	return formatList(v, func(f float64) string { return formatFloat(f, 64) })
}

func (v Strings) String() string {
	return formatList(v, strconv.Quote)
}

func (v Scalars) String() string {
	return formatList(v, Scalar.String)
}

func (v VarRefs) String() string {
	return "vars" + formatList(v, func(s string) string { return s })
}

func (v BlockRefs) String() string {
	return "blocks" + formatList(v, strconv.Itoa)
}

func formatFloat(f float64, bits int) string {
	return strconv.FormatFloat(f, 'g', -1, bits)
}

func formatList[T any](items []T, format func(T) string) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = format(item)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// CloneAttr returns a copy of a that shares no backing arrays with it.
func CloneAttr(a Attr) Attr {
	switch v := a.(type) {
	case Bools:
		return slices.Clone(v)
	case Int32s:
		return slices.Clone(v)
	case Int64s:
		return slices.Clone(v)
	case Float32s:
		return slices.Clone(v)
	case Float64s:
		return slices.Clone(v)
	case Strings:
		return slices.Clone(v)
	case Scalars:
		return slices.Clone(v)
	case VarRefs:
		return slices.Clone(v)
	case BlockRefs:
		return slices.Clone(v)
	}
	return a
}

// EqualAttr reports whether two attribute values have the same type and value.
func EqualAttr(a, b Attr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}
	switch va := a.(type) {
	case Bools:
		return slices.Equal(va, b.(Bools))
	case Int32s:
		return slices.Equal(va, b.(Int32s))
	case Int64s:
		return slices.Equal(va, b.(Int64s))
	case Float32s:
		return slices.Equal(va, b.(Float32s))
	case Float64s:
		return slices.Equal(va, b.(Float64s))
	case Strings:
		return slices.Equal(va, b.(Strings))
	case Scalars:
		return slices.Equal(va, b.(Scalars))
	case VarRefs:
		return slices.Equal(va, b.(VarRefs))
	case BlockRefs:
		return slices.Equal(va, b.(BlockRefs))
	}
	return a == b
}

// ZeroAttr returns the zero value of the given attribute type.
func ZeroAttr(t AttrType) (Attr, error) {
	switch t {
	case AttrInt:
		return Int32(0), nil
	case AttrLong:
		return Int64(0), nil
	case AttrFloat:
		return Float32(0), nil
	case AttrFloat64:
		return Float64(0), nil
	case AttrBool:
		return Bool(false), nil
	case AttrString:
		return String(""), nil
	case AttrInts:
		return Int32s{}, nil
	case AttrLongs:
		return Int64s{}, nil
	case AttrFloats:
		return Float32s{}, nil
	case AttrFloat64s:
		return Float64s{}, nil
	case AttrBools:
		return Bools{}, nil
	case AttrStrings:
		return Strings{}, nil
	case AttrScalar:
		return IntScalar(0), nil
	case AttrScalars:
		return Scalars{}, nil
	case AttrVars:
		return VarRefs{}, nil
	case AttrBlocks:
		return BlockRefs{}, nil
	}
	return nil, fmt.Errorf("attribute type %s has no zero value", t)
}
