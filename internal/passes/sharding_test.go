package passes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphir/internal/distributed"
	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/ir"
	"github.com/roach88/graphir/internal/testutil"
)

// fourParams has element counts 100, 100, 50 and 50.
var fourParams = []testutil.ParamSpec{
	{Name: "p0", Shape: []int64{10, 10}},
	{Name: "p1", Shape: []int64{10, 10}},
	{Name: "p2", Shape: []int64{5, 10}},
	{Name: "p3", Shape: []int64{5, 10}},
}

const dp2 = `
meshes:
  dp: {shape: [2], process_ids: [0, 1]}
tensors:
  x: {mesh: dp, dims_mapping: [0, -1]}
  p0: {mesh: dp, dims_mapping: [-1, -1]}
`

const dp4 = `
meshes:
  dp: {shape: [4], process_ids: [0, 1, 2, 3]}
tensors:
  x: {mesh: dp, dims_mapping: [0, -1]}
`

func setup(t *testing.T, optimizer, annotations string) (*testutil.Training, *distributed.DistContext) {
	t.Helper()
	tr := testutil.NewTraining(testutil.TrainingOptions{Params: fourParams, Optimizer: optimizer})
	dc := distributed.NewDistContext()
	if annotations != "" {
		ann, err := distributed.ParseAnnotations([]byte(annotations))
		require.NoError(t, err)
		require.NoError(t, dc.Apply(ann, tr.Main, tr.Startup))
	}
	return tr, dc
}

func config(tr *testutil.Training, stage, degree, rank int) ShardingConfig {
	cfg := ShardingConfig{Stage: stage, Degree: degree, GlobalRank: rank}
	for _, pg := range tr.ParamsGrads() {
		cfg.ParamsGrads = append(cfg.ParamsGrads, ParamGrad{Param: pg[0], Grad: pg[1]})
	}
	return cfg
}

func opTypes(p *framework.Program) []string {
	var out []string
	for _, op := range p.GlobalBlock().Ops() {
		out = append(out, op.Type())
	}
	return out
}

func count(types []string, typ string) int {
	n := 0
	for _, t := range types {
		if t == typ {
			n++
		}
	}
	return n
}

func TestShardParameters(t *testing.T) {
	tests := []struct {
		name  string
		numel []int64
		size  int
		want  []int
	}{
		{"balanced pairs", []int64{100, 100, 50, 50}, 2, []int{0, 1, 0, 1}},
		{"ties go low", []int64{1, 1, 1}, 3, []int{0, 1, 2}},
		{"big first", []int64{1000, 1, 1, 1}, 2, []int{0, 1, 1, 1}},
		{"single rank", []int64{5, 6}, 1, []int{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShardParameters(tt.numel, tt.size))
		})
	}
}

func TestPartialGroup(t *testing.T) {
	ranks := []int{0, 1, 2, 3, 4, 5}
	assert.Equal(t, []int{0, 1}, PartialGroup(ranks, 2, 1))
	assert.Equal(t, []int{4, 5}, PartialGroup(ranks, 2, 4))
	assert.Equal(t, []int{3, 4, 5}, PartialGroup(ranks, 3, 5))
	assert.Nil(t, PartialGroup(ranks, 2, 9))
}

func TestRunShardingPass_Adam(t *testing.T) {
	tr, dc := setup(t, testutil.Adam, dp2)
	mainBefore := opTypes(tr.Main)
	startupBefore := opTypes(tr.Startup)

	res, err := RunShardingPass(tr.Main, tr.Startup, dc, config(tr, 1, 2, 0))
	require.NoError(t, err)

	info := res.Info
	assert.Equal(t, []int{0, 1}, info.Group.Ranks)
	assert.Same(t, res.DPGroup, info.Group)
	assert.Equal(t, 0, info.LocalRank)
	assert.Equal(t, []string{"p0", "p2"}, info.LocalParams())
	assert.Equal(t, map[string]int{"p0": 0, "p1": 1, "p2": 0, "p3": 1}, info.ParamToRank)
	assert.True(t, info.IsInLocalShard("p2"))
	assert.False(t, info.IsInLocalShard("p3"))

	assert.Equal(t, 2, res.RemovedMainOps)
	assert.Equal(t, 8, res.RemovedStartupOps)
	assert.Equal(t, 8, res.Broadcasts)
	assert.ElementsMatch(t, []string{
		"p1_moment1_0", "p1_moment2_0", "p1_beta1_pow_acc_0", "p1_beta2_pow_acc_0",
		"p3_moment1_0", "p3_moment2_0", "p3_beta1_pow_acc_0", "p3_beta2_pow_acc_0",
	}, res.RemovedVars)

	mainAfter := opTypes(tr.Main)
	assert.Len(t, mainAfter, len(mainBefore)-2+4)
	assert.Equal(t, 2, count(mainAfter, "adam"))
	assert.Equal(t, 4, count(mainAfter, "c_broadcast"))
	startupAfter := opTypes(tr.Startup)
	assert.Len(t, startupAfter, len(startupBefore)-8+4)

	for _, b := range []*framework.Block{tr.Main.GlobalBlock(), tr.Startup.GlobalBlock()} {
		assert.False(t, b.HasVar("p1_moment1_0"))
		assert.False(t, b.HasVar("p3_beta2_pow_acc_0"))
		assert.True(t, b.HasVar("p0_moment1_0"), "local optimizer state stays")
		assert.True(t, b.HasVar("p1"), "parameters are never removed")
	}
	for _, op := range tr.Main.GlobalBlock().Ops() {
		if op.Type() == "adam" {
			assert.Contains(t, info.LocalParams(), op.Input("Param")[0])
		}
	}
	require.NoError(t, tr.Main.Validate())
	require.NoError(t, tr.Startup.Validate())
	assert.False(t, tr.Main.Stale())
}

func TestRunShardingPass_ExternalEditBeforePass(t *testing.T) {
	tr, dc := setup(t, testutil.Adam, dp2)
	ref, refDC := setup(t, testutil.Adam, dp2)
	want, err := RunShardingPass(ref.Main, ref.Startup, refDC, config(ref, 1, 2, 0))
	require.NoError(t, err)

	od := tr.Main.Desc().GlobalBlock().InsertOp(0, "scale")
	od.SetInput("X", []string{"x"})
	od.SetOutput("Out", []string{"x"})
	require.True(t, tr.Main.Stale())

	res, err := RunShardingPass(tr.Main, tr.Startup, dc, config(tr, 1, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, want.RemovedMainOps, res.RemovedMainOps)
	assert.False(t, tr.Main.Stale())

	got := opTypes(tr.Main)
	assert.Equal(t, "scale", got[0], "the externally inserted op survives pruning")
	assert.Equal(t, append([]string{"scale"}, opTypes(ref.Main)...), got)

	descOps := tr.Main.Desc().GlobalBlock().Ops()
	require.Len(t, descOps, len(got))
	for i, op := range tr.Main.GlobalBlock().Ops() {
		assert.Equal(t, op.Handle(), descOps[i].Handle(), "mirror and description agree at %d", i)
	}
}

func TestRunShardingPass_Broadcasts(t *testing.T) {
	tr, dc := setup(t, testutil.SGD, dp2)
	res, err := RunShardingPass(tr.Main, tr.Startup, dc, config(tr, 2, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Info.LocalRank)
	assert.Equal(t, []string{"p1", "p3"}, res.Info.LocalParams())

	tests := []struct {
		prog *framework.Program
		role ir.OpRole
	}{
		{tr.Main, ir.RoleOptimize},
		{tr.Startup, ir.RoleForward},
	}
	for _, tt := range tests {
		t.Run(tt.prog.ID(), func(t *testing.T) {
			ops := tt.prog.GlobalBlock().Ops()
			bcasts := ops[len(ops)-4:]
			for i, op := range bcasts {
				param := res.Info.Params[i]
				require.Equal(t, "c_broadcast", op.Type())
				assert.Equal(t, []string{param}, op.Input("X"))
				assert.Equal(t, []string{param}, op.Output("Out"))
				assert.Equal(t, tt.role, op.Role())

				ring, _ := op.Attr("ring_id")
				assert.Equal(t, ir.Int32(res.Info.Group.ID), ring)
				root, _ := op.Attr("root")
				assert.Equal(t, ir.Int32(res.Info.ParamToRank[param]), root)
				calc, _ := op.Attr("use_calc_stream")
				assert.Equal(t, ir.Bool(true), calc)
			}

			oa := dc.OpDistAttr(bcasts[0])
			require.NotNil(t, oa, "p0 is annotated, so its broadcast is too")
			assert.Equal(t, []int{-1, -1}, oa.InputDimsMapping("p0"))
			assert.Nil(t, dc.OpDistAttr(bcasts[1]))
		})
	}
}

func TestRunShardingPass_Stage3SkipsBroadcast(t *testing.T) {
	tr, dc := setup(t, testutil.SGD, dp2)
	res, err := RunShardingPass(tr.Main, tr.Startup, dc, config(tr, 3, 2, 0))
	require.NoError(t, err)
	assert.Zero(t, res.Broadcasts)
	assert.Zero(t, count(opTypes(tr.Main), "c_broadcast"))
	assert.Equal(t, 2, count(opTypes(tr.Main), "sgd"))
	assert.Empty(t, res.RemovedVars, "sgd has no optimizer state")
}

func TestRunShardingPass_PartialGroup(t *testing.T) {
	tr, dc := setup(t, testutil.SGD, dp4)
	res, err := RunShardingPass(tr.Main, tr.Startup, dc, config(tr, 1, 2, 3))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, res.DPGroup.Ranks)
	assert.Equal(t, []int{2, 3}, res.Info.Group.Ranks)
	assert.NotEqual(t, res.DPGroup.ID, res.Info.Group.ID)
	assert.Equal(t, 1, res.Info.LocalRank)

	g, ok := dc.ProcessGroups().Lookup([]int{2, 3})
	require.True(t, ok)
	assert.Same(t, res.Info.Group, g)

	ring, _ := tr.Main.GlobalBlock().Op(tr.Main.GlobalBlock().NumOps() - 1).Attr("ring_id")
	assert.Equal(t, ir.Int32(g.ID), ring)
}

// twoMeshes places the batch of x and the learning rate on different
// rank groups, so two data-parallel groups are inferred.
const twoMeshes = `
meshes:
  dp: {shape: [2], process_ids: [0, 1]}
  lr: {shape: [2], process_ids: [0, 2]}
tensors:
  x: {mesh: dp, dims_mapping: [0, -1]}
  learning_rate_0: {mesh: lr, dims_mapping: [0]}
`

func TestRunShardingPass_Rejects(t *testing.T) {
	dynamicParam := func(tr *testutil.Training) {
		for _, p := range []*framework.Program{tr.Main, tr.Startup} {
			_, err := p.GlobalBlock().CreateVar(framework.VarOptions{Name: "dyn", Shape: []int64{-1, 3}, Persistable: true})
			require.NoError(t, err)
		}
	}
	tests := []struct {
		name        string
		annotations string
		prepare     func(*testutil.Training)
		mutate      func(*ShardingConfig)
		want        ErrorCode
	}{
		{"stage", dp2, nil, func(c *ShardingConfig) { c.Stage = 4 }, ErrCodeInvalidConfig},
		{"degree", dp2, nil, func(c *ShardingConfig) { c.Degree = 1 }, ErrCodeInvalidConfig},
		{"negative rank", dp2, nil, func(c *ShardingConfig) { c.GlobalRank = -1 }, ErrCodeInvalidConfig},
		{"no params", dp2, nil, func(c *ShardingConfig) { c.ParamsGrads = nil }, ErrCodeInvalidConfig},
		{"duplicate", dp2, nil, func(c *ShardingConfig) { c.ParamsGrads = append(c.ParamsGrads, c.ParamsGrads[0]) }, ErrCodeDuplicateParam},
		{"unknown param", dp2, nil, func(c *ShardingConfig) { c.ParamsGrads[0].Param = "ghost" }, ErrCodeParamNotFound},
		{"main only", dp2, nil, func(c *ShardingConfig) { c.ParamsGrads[0].Param = "x" }, ErrCodeParamNotFound},
		{"unknown shape", dp2, dynamicParam, func(c *ShardingConfig) { c.ParamsGrads[0].Param = "dyn" }, ErrCodeInvalidParamShape},
		{"no group", "", nil, nil, ErrCodeNoParallelGroup},
		{"two groups", twoMeshes, nil, nil, ErrCodeMultipleParallelGroups},
		{"group too small", dp2, nil, func(c *ShardingConfig) { c.Degree = 4 }, ErrCodeGroupTooSmall},
		{"not divisible", dp4, nil, func(c *ShardingConfig) { c.Degree = 3 }, ErrCodeGroupNotDivisible},
		{"rank outside mesh", dp2, nil, func(c *ShardingConfig) { c.GlobalRank = 7 }, ErrCodeRankNotInGroup},
		{"not enough params", dp4, nil, func(c *ShardingConfig) { c.Degree = 4; c.ParamsGrads = c.ParamsGrads[:3] }, ErrCodeNotEnoughParams},
		{"unlisted optimizer param", dp2, nil, func(c *ShardingConfig) { c.ParamsGrads = c.ParamsGrads[:3] }, ErrCodeUnknownOptimizerParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, dc := setup(t, testutil.Adam, tt.annotations)
			if tt.prepare != nil {
				tt.prepare(tr)
			}
			cfg := config(tr, 1, 2, 0)
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			main, err := tr.Main.MarshalBinary()
			require.NoError(t, err)
			startup, err := tr.Startup.MarshalBinary()
			require.NoError(t, err)
			groups := dc.ProcessGroups().Len()

			_, err = RunShardingPass(tr.Main, tr.Startup, dc, cfg)
			require.Error(t, err)
			code, ok := CodeOf(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.want, code)

			mainAfter, err := tr.Main.MarshalBinary()
			require.NoError(t, err)
			startupAfter, err := tr.Startup.MarshalBinary()
			require.NoError(t, err)
			assert.Equal(t, main, mainAfter, "main program unchanged")
			assert.Equal(t, startup, startupAfter, "startup program unchanged")
			assert.Equal(t, groups, dc.ProcessGroups().Len(), "no group registered")
		})
	}

	tr, _ := setup(t, testutil.SGD, "")
	_, err := RunShardingPass(tr.Main, tr.Startup, nil, config(tr, 1, 2, 0))
	assert.Equal(t, ErrCodeMissingDistContext, must(CodeOf(err)))
	assert.True(t, IsPassError(err))
}

func TestRunShardingPass_GroupHelpers(t *testing.T) {
	tr, dc := setup(t, testutil.SGD, twoMeshes)
	_, err := RunShardingPass(tr.Main, tr.Startup, dc, config(tr, 1, 2, 0))
	assert.True(t, IsMultipleParallelGroups(err))
	assert.False(t, IsNoParallelGroup(err))
	assert.Contains(t, err.Error(), "pass="+ShardingPassName)
}

func must(code ErrorCode, _ bool) ErrorCode { return code }
