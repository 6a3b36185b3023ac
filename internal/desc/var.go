package desc

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/roach88/graphir/internal/ir"
)

// VarDesc describes one named variable of a block.
type VarDesc struct {
	name          string
	kind          ir.VarKind
	shape         []int64
	dtype         dtypes.DType
	lodLevel      int
	persistable   bool
	isParameter   bool
	stopGradient  bool
	needCheckFeed bool

	block *BlockDesc
}

// NewVarDesc creates a detached dense tensor variable description.
func NewVarDesc(name string) *VarDesc {
	return &VarDesc{name: name}
}

func (v *VarDesc) touch() {
	if v.block != nil {
		v.block.touch()
	}
}

func (v *VarDesc) Name() string        { return v.name }
func (v *VarDesc) Kind() ir.VarKind    { return v.kind }
func (v *VarDesc) DType() dtypes.DType { return v.dtype }
func (v *VarDesc) LoDLevel() int       { return v.lodLevel }
func (v *VarDesc) Persistable() bool   { return v.persistable }
func (v *VarDesc) IsParameter() bool   { return v.isParameter }
func (v *VarDesc) StopGradient() bool  { return v.stopGradient }
func (v *VarDesc) NeedCheckFeed() bool { return v.needCheckFeed }

// Shape returns a copy of the dimensions. Negative entries are unknown.
func (v *VarDesc) Shape() []int64 { return slices.Clone(v.shape) }

func (v *VarDesc) SetKind(k ir.VarKind) {
	v.kind = k
	v.touch()
}

func (v *VarDesc) SetShape(shape []int64) {
	v.shape = slices.Clone(shape)
	v.touch()
}

func (v *VarDesc) SetDType(dt dtypes.DType) {
	v.dtype = dt
	v.touch()
}

func (v *VarDesc) SetLoDLevel(level int) {
	v.lodLevel = level
	v.touch()
}

func (v *VarDesc) SetPersistable(p bool) {
	v.persistable = p
	v.touch()
}

func (v *VarDesc) SetIsParameter(p bool) {
	v.isParameter = p
	v.touch()
}

func (v *VarDesc) SetStopGradient(s bool) {
	v.stopGradient = s
	v.touch()
}

func (v *VarDesc) SetNeedCheckFeed(c bool) {
	v.needCheckFeed = c
	v.touch()
}

// NumElements returns the element count; ok is false for unknown dims.
func (v *VarDesc) NumElements() (int64, bool) {
	return NumElements(v.shape)
}

// Clone copies v, detached from any block.
func (v *VarDesc) Clone() *VarDesc { return v.clone() }

func (v *VarDesc) clone() *VarDesc {
	c := *v
	c.shape = slices.Clone(v.shape)
	c.block = nil
	return &c
}
