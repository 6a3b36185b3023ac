package desc

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphir/internal/ir"
)

func newTestProgram() *ProgramDesc {
	return New(WithID("prog-1"))
}

func TestNew_GlobalBlock(t *testing.T) {
	p := newTestProgram()
	assert.Equal(t, "prog-1", p.ID())
	require.Equal(t, 1, p.NumBlocks())
	assert.Equal(t, 0, p.GlobalBlock().Index())
	assert.Equal(t, NoBlock, p.GlobalBlock().Parent())
	assert.Equal(t, NoBlock, p.GlobalBlock().ForwardBlock())
}

func TestNew_IDGenerator(t *testing.T) {
	p := New(WithIDGenerator(NewFixedGenerator("a", "b")))
	assert.Equal(t, "a", p.ID())

	q := New()
	assert.Len(t, q.ID(), 36, "default generator yields UUID strings")
}

func TestFixedGenerator_Exhausted(t *testing.T) {
	g := NewFixedGenerator("only")
	assert.Equal(t, "only", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestAppendBlock(t *testing.T) {
	p := newTestProgram()
	b1, err := p.AppendBlock(0)
	require.NoError(t, err)
	assert.Equal(t, 1, b1.Index())
	assert.Equal(t, 0, b1.Parent())

	b2, err := p.AppendBlock(1)
	require.NoError(t, err)
	assert.Equal(t, 1, b2.Parent())

	_, err = p.AppendBlock(5)
	assert.Error(t, err)
}

func TestVersion_GrowsOnEveryMutation(t *testing.T) {
	p := newTestProgram()
	b := p.GlobalBlock()

	steps := []struct {
		name string
		fn   func()
	}{
		{"new var", func() { b.NewVar("x") }},
		{"set shape", func() { b.Var("x").SetShape([]int64{2, 3}) }},
		{"set dtype", func() { b.Var("x").SetDType(dtypes.Float32) }},
		{"append op", func() { b.AppendOp("relu") }},
		{"set input", func() { b.Op(0).SetInput("X", []string{"x"}) }},
		{"set attr", func() { b.Op(0).SetAttr("alpha", ir.Float32(1)) }},
		{"remove attr", func() { b.Op(0).RemoveAttr("alpha") }},
		{"rename var", func() { require.NoError(t, b.RenameVar("x", "y")) }},
		{"append block", func() { _, _ = p.AppendBlock(0) }},
	}
	for _, s := range steps {
		before := p.Version()
		s.fn()
		assert.Greater(t, p.Version(), before, s.name)
	}
}

func TestNewVar_CreateOrGet(t *testing.T) {
	b := newTestProgram().GlobalBlock()
	v1 := b.NewVar("w")
	v1.SetShape([]int64{4})
	v2 := b.NewVar("w")
	assert.Same(t, v1, v2)
	assert.Len(t, b.Vars(), 1)
	assert.Equal(t, ir.KindDenseTensor, v1.Kind())
}

func TestVarDesc_ShapeIsCopied(t *testing.T) {
	b := newTestProgram().GlobalBlock()
	v := b.NewVar("w")
	shape := []int64{2, 3}
	v.SetShape(shape)
	shape[0] = 99
	got := v.Shape()
	assert.Equal(t, []int64{2, 3}, got)
	got[1] = 42
	assert.Equal(t, []int64{2, 3}, v.Shape())
}

func TestNumElements(t *testing.T) {
	tests := []struct {
		shape []int64
		want  int64
		ok    bool
	}{
		{nil, 1, true},
		{[]int64{2, 3}, 6, true},
		{[]int64{-1, 3}, 0, false},
		{[]int64{0, 5}, 0, true},
	}
	for _, tt := range tests {
		n, ok := NumElements(tt.shape)
		assert.Equal(t, tt.ok, ok, "%v", tt.shape)
		assert.Equal(t, tt.want, n, "%v", tt.shape)
	}
}

func TestRemoveVar(t *testing.T) {
	b := newTestProgram().GlobalBlock()
	b.NewVar("a")
	b.NewVar("b")
	assert.True(t, b.RemoveVar("a"))
	assert.False(t, b.RemoveVar("a"))
	assert.False(t, b.HasVar("a"))
	require.Len(t, b.Vars(), 1)
	assert.Equal(t, "b", b.Vars()[0].Name())
}

func TestRenameVar(t *testing.T) {
	b := newTestProgram().GlobalBlock()
	b.NewVar("a")
	b.NewVar("b")

	require.NoError(t, b.RenameVar("a", "c"))
	assert.False(t, b.HasVar("a"))
	assert.Equal(t, "c", b.Vars()[0].Name(), "rename keeps position")

	assert.Error(t, b.RenameVar("missing", "z"))
	assert.Error(t, b.RenameVar("c", "b"))
}

func TestOps_HandlesAreStable(t *testing.T) {
	p := newTestProgram()
	b := p.GlobalBlock()
	a := b.AppendOp("a")
	c := b.AppendOp("c")
	mid := b.InsertOp(1, "b")
	front := b.PrependOp("z")

	assert.Equal(t, []string{"z", "a", "b", "c"}, opTypes(b))
	assert.Equal(t, int64(1), a.Handle())
	assert.Equal(t, int64(2), c.Handle())
	assert.Equal(t, int64(3), mid.Handle())
	assert.Equal(t, int64(4), front.Handle())

	removed, err := b.RemoveOp(1)
	require.NoError(t, err)
	assert.Same(t, a, removed)
	assert.Nil(t, removed.Block())

	got, idx := b.OpByHandle(c.Handle())
	assert.Same(t, c, got)
	assert.Equal(t, 2, idx)

	_, idx = b.OpByHandle(a.Handle())
	assert.Equal(t, -1, idx)

	// Handles are never reused.
	d := b.AppendOp("d")
	assert.Equal(t, int64(5), d.Handle())

	found, ok := p.FindOp(mid.Handle())
	assert.True(t, ok)
	assert.Same(t, mid, found)
}

func TestInsertOpDesc_RejectsAttachedOp(t *testing.T) {
	b := newTestProgram().GlobalBlock()
	op := b.AppendOp("relu")
	assert.Error(t, b.InsertOpDesc(0, op))
	assert.Error(t, b.InsertOpDesc(9, NewOpDesc("relu")))
	assert.Panics(t, func() { b.InsertOp(-1, "relu") })
}

func TestRemoveOps_Range(t *testing.T) {
	b := newTestProgram().GlobalBlock()
	for _, typ := range []string{"a", "b", "c", "d"} {
		b.AppendOp(typ)
	}
	require.NoError(t, b.RemoveOps(1, 3))
	assert.Equal(t, []string{"a", "d"}, opTypes(b))
	assert.Error(t, b.RemoveOps(1, 5))
	_, err := b.RemoveOp(7)
	assert.Error(t, err)
}

func TestOpDesc_Bindings(t *testing.T) {
	op := NewOpDesc("sum")
	op.SetInput("X", []string{"a", "b", "a"})
	op.SetOutput("Out", []string{"s"})
	op.SetInput("X", []string{"a", "c", "a"})

	assert.Equal(t, []string{"a", "c", "a"}, op.Input("X"))
	assert.Len(t, op.Inputs(), 1, "rebinding replaces the slot")
	assert.Nil(t, op.Input("Y"))

	op.RenameInput("a", "z")
	assert.Equal(t, []string{"z", "c", "z"}, op.InputArgNames())
	op.RenameOutput("s", "t")
	assert.Equal(t, []string{"t"}, op.OutputArgNames())

	ins := op.Inputs()
	ins[0].Args[0] = "mutated"
	assert.Equal(t, "z", op.Input("X")[0], "Inputs returns a copy")
}

func TestOpDesc_CloneIsDetached(t *testing.T) {
	b := newTestProgram().GlobalBlock()
	op := b.AppendOp("scale")
	op.SetAttr("bias_list", ir.Float32s{1, 2})
	op.SetInput("X", []string{"x"})

	c := op.Clone()
	assert.Zero(t, c.Handle())
	assert.Nil(t, c.Block())

	c.SetInput("X", []string{"y"})
	a, _ := c.Attr("bias_list")
	a.(ir.Float32s)[0] = 9
	assert.Equal(t, []string{"x"}, op.Input("X"))
	orig, _ := op.Attr("bias_list")
	assert.Equal(t, ir.Float32s{1, 2}, orig)
}

func TestProgramClone_Independent(t *testing.T) {
	p := buildSample(t)
	c := p.Clone()

	assert.Equal(t, p.ID(), c.ID())
	assert.Equal(t, p.GlobalBlock().Op(0).Handle(), c.GlobalBlock().Op(0).Handle())
	assert.Same(t, c, c.GlobalBlock().Program())

	c.GlobalBlock().Var("x").SetShape([]int64{7})
	c.GlobalBlock().AppendOp("extra")
	assert.Equal(t, []int64{-1, 4}, p.GlobalBlock().Var("x").Shape())
	assert.Equal(t, 2, p.GlobalBlock().NumOps())

	// New ops in the clone continue the handle sequence.
	assert.Equal(t, p.nextHandle, c.GlobalBlock().Op(2).Handle())
}

func TestMarshalBinary_RoundTrip(t *testing.T) {
	p := buildSample(t)
	blob, err := p.MarshalBinary()
	require.NoError(t, err)

	q, err := Parse(blob)
	require.NoError(t, err)

	blob2, err := q.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, blob, blob2, "re-encoding is byte identical")

	assert.Equal(t, p.ID(), q.ID())
	assert.Equal(t, p.NumBlocks(), q.NumBlocks())
	assert.Equal(t, 0, q.Block(1).ForwardBlock())

	x := q.GlobalBlock().Var("x")
	require.NotNil(t, x)
	assert.Equal(t, []int64{-1, 4}, x.Shape())
	assert.Equal(t, dtypes.Float32, x.DType())
	assert.Equal(t, 1, x.LoDLevel())
	assert.True(t, x.NeedCheckFeed())

	w := q.GlobalBlock().Var("w")
	assert.True(t, w.Persistable())
	assert.True(t, w.IsParameter())
	assert.False(t, w.StopGradient())

	orig := p.GlobalBlock().Op(1)
	got := q.GlobalBlock().Op(1)
	assert.Equal(t, orig.Handle(), got.Handle())
	assert.Equal(t, orig.Inputs(), got.Inputs())
	assert.Equal(t, orig.Outputs(), got.Outputs())
	require.Equal(t, orig.AttrNames(), got.AttrNames())
	for _, name := range orig.AttrNames() {
		a, _ := orig.Attr(name)
		b, _ := got.Attr(name)
		assert.True(t, ir.EqualAttr(a, b), "attr %s: %v != %v", name, a, b)
	}

	fp1, err := p.Fingerprint()
	require.NoError(t, err)
	fp2, err := q.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
}

func TestParse_Rejects(t *testing.T) {
	blob, err := buildSample(t).MarshalBinary()
	require.NoError(t, err)

	corrupt := func(f func([]byte)) []byte {
		c := append([]byte(nil), blob...)
		f(c)
		return c
	}

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"short", blob[:10], "too short"},
		{"magic", corrupt(func(b []byte) { b[0] = 'X' }), "bad magic"},
		{"version", corrupt(func(b []byte) { b[5] = 99 }), "format version"},
		{"checksum", corrupt(func(b []byte) { b[headerSize+3] ^= 0xff }), "checksum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, buildSample(t).Validate())
	})
	t.Run("duplicate handle", func(t *testing.T) {
		p := buildSample(t)
		p.GlobalBlock().Op(1).handle = p.GlobalBlock().Op(0).handle
		assert.ErrorContains(t, p.Validate(), "duplicate op handle")
	})
	t.Run("handle beyond counter", func(t *testing.T) {
		p := buildSample(t)
		p.GlobalBlock().Op(0).handle = p.nextHandle + 10
		assert.ErrorContains(t, p.Validate(), "invalid handle")
	})
	t.Run("bad parent", func(t *testing.T) {
		p := buildSample(t)
		p.Block(1).parent = 1
		assert.ErrorContains(t, p.Validate(), "parents must precede children")
	})
	t.Run("forward out of range", func(t *testing.T) {
		p := buildSample(t)
		p.Block(1).forward = 8
		assert.ErrorContains(t, p.Validate(), "forward block")
	})
}

func TestEncodeAttr_EveryType(t *testing.T) {
	attrs := []ir.Attr{
		ir.Bool(true),
		ir.Int32(-7),
		ir.Int64(1 << 40),
		ir.Float32(0.5),
		ir.Float64(2.25),
		ir.String("hello"),
		ir.Bools{true, false},
		ir.Int32s{1, 2, 3},
		ir.Int64s{},
		ir.Float32s{1.5},
		ir.Float64s{3.5, -1},
		ir.Strings{"a", "b"},
		ir.IntScalar(3),
		ir.Scalars{ir.BoolScalar(true), ir.FloatScalar(1.5), ir.ComplexScalar(complex(1, -2))},
		ir.VarRef("x"),
		ir.VarRefs{"x", "y"},
		ir.BlockRef(2),
		ir.BlockRefs{1, 2},
	}
	for _, a := range attrs {
		t.Run(a.Type().String(), func(t *testing.T) {
			wa, err := encodeAttr("attr", a)
			require.NoError(t, err)
			got, err := decodeAttr(wa)
			require.NoError(t, err)
			assert.Equal(t, a.Type(), got.Type())
			assert.True(t, ir.EqualAttr(a, got), "%v != %v", a, got)
		})
	}
}

func TestDecodeAttr_UnknownTag(t *testing.T) {
	_, err := decodeAttr(wireAttr{Name: "x", T: 200})
	assert.ErrorContains(t, err, "unknown type tag")

	_, err = decodeAttr(wireAttr{Name: "x", T: uint8(ir.AttrScalar)})
	assert.ErrorContains(t, err, "scalar payload")
}

func TestParseDType(t *testing.T) {
	for _, dt := range []dtypes.DType{dtypes.Float32, dtypes.Int64, dtypes.Bool} {
		got, err := ParseDType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, got)
	}
	got, err := ParseDType("float32")
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, got)

	_, err = ParseDType("quaternion")
	assert.Error(t, err)
}

// buildSample returns a two-block program exercising every description
// field the codec writes.
func buildSample(t *testing.T) *ProgramDesc {
	t.Helper()
	p := newTestProgram()
	g := p.GlobalBlock()

	x := g.NewVar("x")
	x.SetShape([]int64{-1, 4})
	x.SetDType(dtypes.Float32)
	x.SetLoDLevel(1)
	x.SetNeedCheckFeed(true)

	w := g.NewVar("w")
	w.SetShape([]int64{4, 2})
	w.SetDType(dtypes.Float32)
	w.SetPersistable(true)
	w.SetIsParameter(true)

	out := g.NewVar("out")
	out.SetDType(dtypes.Float32)

	feed := g.AppendOp("feed")
	feed.SetOutput("Out", []string{"x"})
	feed.SetAttr("col", ir.Int32(0))

	mul := g.AppendOp("mul")
	mul.SetInput("X", []string{"x"})
	mul.SetInput("Y", []string{"w"})
	mul.SetOutput("Out", []string{"out"})
	mul.SetAttr("x_num_col_dims", ir.Int32(1))
	mul.SetAttr(ir.AttrOpRole, ir.Int32(ir.RoleForward))
	mul.SetAttr(ir.AttrOpRoleVar, ir.Strings{"w", "w@GRAD"})
	mul.SetAttr("fill", ir.Scalars{ir.IntScalar(1), ir.ComplexScalar(complex(0, 1))})
	mul.SetAttr("sub_block", ir.BlockRef(1))
	mul.SetAttr("scale", ir.Float64(0.125))

	sub, err := p.AppendBlock(0)
	require.NoError(t, err)
	sub.SetForwardBlock(0)
	sub.NewVar("tmp").SetKind(ir.KindTensorArray)
	sub.AppendOp("increment").SetAttr("step", ir.Float32(1))
	return p
}

func opTypes(b *BlockDesc) []string {
	var out []string
	for _, op := range b.Ops() {
		out = append(out, op.Type())
	}
	return out
}
