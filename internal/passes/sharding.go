package passes

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/roach88/graphir/internal/distributed"
	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/ir"
)

// ShardingPassName is the registered name of the sharding pass.
const ShardingPassName = "auto_parallel_sharding"

// Op types that never reveal the data-parallel layout.
var skipOps = []string{"create_py_reader", "create_double_buffer_reader", "read", "slice"}

// Optimizer op types whose state the sharding pass partitions.
var supportedOptimizers = []string{
	"adam", "adamax", "adamw", "decayed_adagrad", "momentum", "dgc_momentum",
	"lars_momentum", "merged_momentum", "lamb", "sgd",
}

// ParamGrad names a parameter and its gradient.
type ParamGrad struct {
	Param string `yaml:"param"`
	Grad  string `yaml:"grad"`
}

// ShardingConfig configures the sharding pass.
type ShardingConfig struct {
	// Stage 1 and 2 broadcast updated parameters from their owner; stage 3
	// leaves parameters sharded.
	Stage       int         `yaml:"stage"`
	Degree      int         `yaml:"sharding_degree"`
	GlobalRank  int         `yaml:"global_rank"`
	ParamsGrads []ParamGrad `yaml:"params_grads"`
}

// Params returns the parameter names in order.
func (c ShardingConfig) Params() []string {
	out := make([]string, len(c.ParamsGrads))
	for i, pg := range c.ParamsGrads {
		out[i] = pg.Param
	}
	return out
}

// ShardingResult summarizes one sharding pass application.
type ShardingResult struct {
	Info *ShardingInfo
	// DPGroup is the inferred data-parallel group; Info.Group differs from
	// it when the degree is smaller than the group.
	DPGroup           *distributed.ProcessGroup
	RemovedMainOps    int
	RemovedStartupOps int
	RemovedVars       []string
	Broadcasts        int
}

// Summary flattens the result for logging and persistence.
func (r *ShardingResult) Summary() map[string]any {
	return map[string]any{
		"dp_group":            r.DPGroup.Ranks,
		"ring_id":             r.Info.Group.ID,
		"local_rank":          r.Info.LocalRank,
		"local_params":        r.Info.LocalParams(),
		"removed_main_ops":    r.RemovedMainOps,
		"removed_startup_ops": r.RemovedStartupOps,
		"removed_vars":        r.RemovedVars,
		"broadcasts":          r.Broadcasts,
	}
}

// ShardingPass partitions optimizer state across a data-parallel group.
type ShardingPass struct {
	Config ShardingConfig
}

func init() {
	Register(ShardingPassName, func(attrs map[string]any) (Pass, error) {
		var cfg ShardingConfig
		if err := DecodeAttrs(attrs, &cfg); err != nil {
			return nil, err
		}
		return &ShardingPass{Config: cfg}, nil
	})
}

func (*ShardingPass) Name() string { return ShardingPassName }

// Apply runs the pass and records its summary in ctx.
func (s *ShardingPass) Apply(ctx *Context, main, startup *framework.Program) error {
	res, err := RunShardingPass(main, startup, ctx.Dist, s.Config)
	if err != nil {
		return err
	}
	ctx.Set("sharding_info", res.Info)
	ctx.record(ShardingPassName, res.Summary())
	return nil
}

// shardingPlan is everything the pass decides before it mutates.
type shardingPlan struct {
	cfg     ShardingConfig
	params  []string
	numel   []int64
	dpRanks []int
	ranks   []int
	// optimizer ops to remove from main, by index, descending
	pruneOps []int
	// outputs of the pruned ops other than their parameter, in order
	pruneVars []string
}

// RunShardingPass shards optimizer state of main and startup across the
// data-parallel group inferred from dist. Every precondition is checked
// before the first mutation; a *PassError leaves both programs unchanged.
func RunShardingPass(main, startup *framework.Program, dist *distributed.DistContext, cfg ShardingConfig) (*ShardingResult, error) {
	if dist == nil {
		return nil, shardingError(ErrCodeMissingDistContext, "no distributed context")
	}
	// The plan addresses operators by mirror index.
	main.Reconcile()
	startup.Reconcile()
	plan, err := planSharding(main, startup, dist, cfg)
	if err != nil {
		return nil, err
	}

	groups := dist.ProcessGroups()
	res := &ShardingResult{DPGroup: groups.New(plan.dpRanks)}
	group := res.DPGroup
	if len(plan.ranks) != len(plan.dpRanks) {
		group = groups.New(plan.ranks)
	}
	res.Info = newShardingInfo(group, cfg.GlobalRank, plan.params, plan.numel)

	if err := res.prune(main, startup, plan); err != nil {
		return nil, err
	}
	if cfg.Stage <= 2 {
		if err := res.broadcast(main, startup, dist); err != nil {
			return nil, err
		}
	}
	main.Reconcile()
	startup.Reconcile()

	slog.Info("sharding pass applied",
		"main", main.ID(), "startup", startup.ID(),
		"stage", cfg.Stage, "degree", cfg.Degree, "rank", cfg.GlobalRank,
		"ring_id", group.ID, "local_params", len(res.Info.LocalParams()),
		"removed_ops", res.RemovedMainOps+res.RemovedStartupOps,
		"removed_vars", len(res.RemovedVars), "broadcasts", res.Broadcasts)
	return res, nil
}

func planSharding(main, startup *framework.Program, dist *distributed.DistContext, cfg ShardingConfig) (*shardingPlan, error) {
	plan := &shardingPlan{cfg: cfg, params: cfg.Params()}
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	numel, err := checkParams(main, startup, plan.params)
	if err != nil {
		return nil, err
	}
	plan.numel = numel

	dp, err := inferDataParallelGroup(main, dist, cfg.GlobalRank)
	if err != nil {
		return nil, err
	}
	plan.dpRanks = dp

	switch {
	case len(dp) < cfg.Degree:
		return nil, shardingError(ErrCodeGroupTooSmall,
			"sharding degree %d is larger than the data-parallel group %v", cfg.Degree, dp)
	case len(dp)%cfg.Degree != 0:
		return nil, shardingError(ErrCodeGroupNotDivisible,
			"sharding degree %d does not divide the data-parallel group size %d", cfg.Degree, len(dp))
	case !slices.Contains(dp, cfg.GlobalRank):
		return nil, shardingError(ErrCodeRankNotInGroup,
			"rank %d is not in the data-parallel group %v", cfg.GlobalRank, dp)
	case len(plan.params) < cfg.Degree:
		return nil, shardingError(ErrCodeNotEnoughParams,
			"%d parameters cannot be sharded over %d ranks", len(plan.params), cfg.Degree)
	}
	plan.ranks = dp
	if len(dp) > cfg.Degree {
		plan.ranks = PartialGroup(dp, cfg.Degree, cfg.GlobalRank)
	}

	owners := ShardParameters(numel, len(plan.ranks))
	local := slices.Index(plan.ranks, cfg.GlobalRank)
	isLocal := make(map[string]bool, len(plan.params))
	for i, p := range plan.params {
		isLocal[p] = owners[i] == local
	}
	if err := plan.planPruning(main, isLocal); err != nil {
		return nil, err
	}
	return plan, nil
}

func checkConfig(cfg ShardingConfig) error {
	switch {
	case cfg.Stage < 1 || cfg.Stage > 3:
		return shardingError(ErrCodeInvalidConfig, "stage must be 1, 2 or 3, got %d", cfg.Stage)
	case cfg.Degree <= 1:
		return shardingError(ErrCodeInvalidConfig, "sharding degree must be greater than 1, got %d", cfg.Degree)
	case len(cfg.ParamsGrads) == 0:
		return shardingError(ErrCodeInvalidConfig, "no parameters to shard")
	case cfg.GlobalRank < 0:
		return shardingError(ErrCodeInvalidConfig, "global rank must be non-negative, got %d", cfg.GlobalRank)
	}
	return nil
}

func checkParams(main, startup *framework.Program, params []string) ([]int64, error) {
	seen := make(map[string]bool, len(params))
	numel := make([]int64, len(params))
	for i, p := range params {
		if seen[p] {
			return nil, shardingError(ErrCodeDuplicateParam, "parameter %q is listed twice", p)
		}
		seen[p] = true
		v := main.GlobalBlock().Var(p)
		if v == nil {
			return nil, shardingError(ErrCodeParamNotFound, "parameter %q is not in main program %s", p, main.ID())
		}
		if !startup.GlobalBlock().HasVar(p) {
			return nil, shardingError(ErrCodeParamNotFound, "parameter %q is not in startup program %s", p, startup.ID())
		}
		n, ok := v.NumElements()
		if !ok || n <= 0 {
			return nil, shardingError(ErrCodeInvalidParamShape, "parameter %q has shape %v", p, v.Shape())
		}
		numel[i] = n
	}
	return numel, nil
}

// isParameterRelated reports whether name is a parameter or the gradient
// of one.
func isParameterRelated(b *framework.Block, name string) bool {
	base, _, _ := strings.Cut(name, framework.GradSuffix)
	v := b.FindVarRecursive(base)
	return v != nil && v.IsParameter()
}

// inferDataParallelGroup finds the communication group along the mesh
// axis that splits the batch dimension of the ops' non-parameter inputs.
// Each op contributes at most one group; exactly one distinct group must
// result.
func inferDataParallelGroup(main *framework.Program, dist *distributed.DistContext, rank int) ([]int, error) {
	b := main.GlobalBlock()
	var groups [][]int
	for _, op := range b.Ops() {
		if slices.Contains(skipOps, op.Type()) {
			continue
		}
		oa := dist.OpDistAttr(op)
		if oa == nil {
			continue
		}
		for _, name := range op.InputArgNames() {
			if isParameterRelated(b, name) {
				continue
			}
			mapping := oa.InputDimsMapping(name)
			if len(mapping) == 0 {
				continue
			}
			axis := mapping[0]
			if axis <= distributed.Replicated || oa.Mesh.DimSize(axis) <= 1 {
				continue
			}
			ranks, err := oa.Mesh.CommGroup(axis, rank)
			if err != nil {
				return nil, shardingError(ErrCodeRankNotInGroup, "op %s: %v", op.Type(), err)
			}
			if !slices.ContainsFunc(groups, func(g []int) bool { return slices.Equal(g, ranks) }) {
				groups = append(groups, ranks)
			}
			break
		}
	}
	switch len(groups) {
	case 0:
		return nil, shardingError(ErrCodeNoParallelGroup, "no data-parallel group found in program %s", main.ID())
	case 1:
		return groups[0], nil
	}
	return nil, shardingError(ErrCodeMultipleParallelGroups,
		"exactly one data-parallel group is supported, found %d: %v", len(groups), groups)
}

// planPruning walks the trailing optimizer ops of main and selects those
// updating parameters owned by another rank.
func (plan *shardingPlan) planPruning(main *framework.Program, isLocal map[string]bool) error {
	ops := main.GlobalBlock().Ops()
	seen := make(map[string]bool)
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if !op.Role().IsOptimize() {
			break
		}
		if !slices.Contains(supportedOptimizers, op.Type()) {
			continue
		}
		params := op.Input("Param")
		if len(params) != 1 {
			return shardingError(ErrCodeInvalidOptimizerOp,
				"optimizer op %s (#%d) has %d Param arguments, want 1", op.Type(), op.Handle(), len(params))
		}
		param := params[0]
		local, known := isLocal[param]
		if !known {
			return shardingError(ErrCodeUnknownOptimizerParam,
				"optimizer op %s (#%d) updates %q, which is not being sharded", op.Type(), op.Handle(), param)
		}
		if local {
			continue
		}
		plan.pruneOps = append(plan.pruneOps, i)
		for _, out := range op.OutputArgNames() {
			if out != param && !seen[out] {
				seen[out] = true
				plan.pruneVars = append(plan.pruneVars, out)
			}
		}
	}
	return nil
}

func (r *ShardingResult) prune(main, startup *framework.Program, plan *shardingPlan) error {
	mb := main.GlobalBlock()
	for _, idx := range plan.pruneOps {
		if err := mb.RemoveOp(idx); err != nil {
			return errors.Wrap(err, "remove optimizer op")
		}
		r.RemovedMainOps++
	}

	pruned := make(map[string]bool, len(plan.pruneVars))
	for _, name := range plan.pruneVars {
		pruned[name] = true
	}
	sb := startup.GlobalBlock()
	r.RemovedStartupOps = sb.RemoveOpsWhere(func(op *framework.Operator) bool {
		outs := op.OutputArgNames()
		return len(outs) == 1 && pruned[outs[0]]
	})

	for _, name := range plan.pruneVars {
		removed := false
		for _, b := range []*framework.Block{mb, sb} {
			if b.HasVar(name) {
				if err := b.RemoveVar(name); err != nil {
					return errors.Wrapf(err, "remove optimizer state %q", name)
				}
				removed = true
			}
		}
		if removed {
			r.RemovedVars = append(r.RemovedVars, name)
		}
	}
	return nil
}

// broadcast appends one c_broadcast per parameter to both programs so the
// owner's updated value reaches every rank of the group.
func (r *ShardingResult) broadcast(main, startup *framework.Program, dist *distributed.DistContext) error {
	targets := []struct {
		prog *framework.Program
		role ir.OpRole
	}{
		{main, ir.RoleOptimize},
		{startup, ir.RoleForward},
	}
	for _, param := range r.Info.Params {
		for _, t := range targets {
			b := t.prog.GlobalBlock()
			var op *framework.Operator
			err := t.prog.WithRole(t.role, func() error {
				var err error
				op, err = b.AppendOp(framework.OpSpec{
					Type:    "c_broadcast",
					Inputs:  map[string][]string{"X": {param}},
					Outputs: map[string][]string{"Out": {param}},
					Attrs: map[string]any{
						"ring_id":         r.Info.Group.ID,
						"root":            r.Info.ParamToRank[param],
						"use_calc_stream": true,
					},
				})
				return err
			})
			if err != nil {
				return errors.Wrapf(err, "broadcast %q in %s", param, t.prog.ID())
			}
			if pa := dist.TensorDistAttr(b.Var(param)); pa != nil {
				if err := dist.SetOpDistAttrFromTensor(op, pa); err != nil {
					return err
				}
			}
			r.Broadcasts++
		}
	}
	return nil
}

func (r *ShardingResult) String() string {
	return fmt.Sprintf("%v: removed %d+%d ops, %d vars, %d broadcasts",
		r.Info, r.RemovedMainOps, r.RemovedStartupOps, len(r.RemovedVars), r.Broadcasts)
}
