package passes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/testutil"
)

func TestRegistry(t *testing.T) {
	assert.Contains(t, Names(), ShardingPassName)

	p, err := New(ShardingPassName, map[string]any{
		"stage":           2,
		"sharding_degree": 2,
		"global_rank":     1,
		"params_grads":    []map[string]string{{"param": "p0", "grad": "p0@GRAD"}},
	})
	require.NoError(t, err)
	sp, ok := p.(*ShardingPass)
	require.True(t, ok)
	assert.Equal(t, ShardingConfig{Stage: 2, Degree: 2, GlobalRank: 1,
		ParamsGrads: []ParamGrad{{Param: "p0", Grad: "p0@GRAD"}}}, sp.Config)
	assert.Equal(t, []string{"p0"}, sp.Config.Params())

	_, err = New(ShardingPassName, map[string]any{"degree": 2})
	assert.Error(t, err, "unknown attrs are rejected")
	_, err = New("no_such_pass", nil)
	assert.Error(t, err)

	assert.Panics(t, func() {
		Register(ShardingPassName, func(map[string]any) (Pass, error) { return nil, nil })
	})
}

type renamePass struct{ from, to string }

func (*renamePass) Name() string { return "rename" }

func (r *renamePass) Apply(ctx *Context, main, _ *framework.Program) error {
	if err := main.GlobalBlock().RenameVar(r.from, r.to); err != nil {
		return err
	}
	ctx.record(r.Name(), map[string]any{"from": r.from, "to": r.to})
	return nil
}

func TestRun(t *testing.T) {
	tr, dc := setup(t, testutil.SGD, dp2)
	ctx := NewContext(dc)
	cfg := config(tr, 1, 2, 0)

	err := Run(ctx, tr.Main, tr.Startup, &renamePass{from: "h_0", to: "hidden_0"}, &ShardingPass{Config: cfg})
	require.NoError(t, err)

	applied := ctx.Applied()
	require.Len(t, applied, 2)
	assert.Equal(t, "rename", applied[0].Pass)
	assert.Equal(t, ShardingPassName, applied[1].Pass)
	assert.Equal(t, []string{"p0", "p2"}, applied[1].Summary["local_params"])
	assert.Equal(t, 8, applied[1].Summary["broadcasts"])

	v, ok := ctx.Get("sharding_info")
	require.True(t, ok)
	assert.Equal(t, 0, v.(*ShardingInfo).LocalRank)

	err = Run(ctx, tr.Main, tr.Startup, &renamePass{from: "ghost", to: "g"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pass rename")
	assert.Len(t, ctx.Applied(), 2, "failed passes are not recorded")
}

func TestRun_PassErrorKeepsCode(t *testing.T) {
	tr, _ := setup(t, testutil.SGD, "")
	ctx := NewContext(nil)
	err := Run(ctx, tr.Main, tr.Startup, &ShardingPass{Config: config(tr, 1, 2, 0)})
	require.Error(t, err)
	assert.True(t, IsNoParallelGroup(err), "wrapping keeps the code: %v", err)
	assert.Empty(t, ctx.Applied())
}
