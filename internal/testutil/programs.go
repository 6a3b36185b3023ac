package testutil

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"

	"github.com/roach88/graphir/internal/desc"
	"github.com/roach88/graphir/internal/framework"
)

// In and Out shorten OpSpec bindings in fixtures.
type (
	In  = map[string][]string
	Out = map[string][]string
)

// MLP builds a forward-only program with id "mlp":
//
//	h = mul(x, w); out = relu(h); loss = mean(out)
func MLP() *framework.Program {
	p := framework.NewProgram(nil, desc.WithID("mlp"))
	g := p.GlobalBlock()
	must.M1(g.CreateVar(framework.VarOptions{Name: "x", Shape: []int64{-1, 4}, DType: dtypes.Float32, NeedCheckFeed: true}))
	must.M1(g.CreateParameter(framework.ParamOptions{Name: "w", Shape: []int64{4, 2}, DType: dtypes.Float32}))
	for _, name := range []string{"h", "out", "loss"} {
		must.M1(g.CreateVar(framework.VarOptions{Name: name, DType: dtypes.Float32}))
	}
	Append(g,
		framework.OpSpec{Type: "mul", Inputs: In{"X": {"x"}, "Y": {"w"}}, Outputs: Out{"Out": {"h"}}},
		framework.OpSpec{Type: "relu", Inputs: In{"X": {"h"}}, Outputs: Out{"Out": {"out"}}},
		framework.OpSpec{Type: "mean", Inputs: In{"X": {"out"}}, Outputs: Out{"Out": {"loss"}}},
	)
	return p
}

// Append appends every spec to b and panics on the first error.
func Append(b *framework.Block, specs ...framework.OpSpec) []*framework.Operator {
	ops := make([]*framework.Operator, len(specs))
	for i, s := range specs {
		ops[i] = must.M1(b.AppendOp(s))
	}
	return ops
}

// ParamSpec describes one trainable parameter of a training fixture.
type ParamSpec struct {
	Name  string
	Shape []int64
}

// Optimizer names accepted by TrainingOptions.
const (
	SGD  = "sgd"
	Adam = "adam"
)

// TrainingOptions configures NewTraining.
type TrainingOptions struct {
	Params    []ParamSpec
	Optimizer string // SGD when empty
	// ID prefixes the main and startup program ids; "train" when empty.
	ID string
}

// Training is a main/startup program pair of a small data-parallel model.
type Training struct {
	Main    *framework.Program
	Startup *framework.Program
	Params  []string
}

// ParamsGrads returns (param, param@GRAD) pairs in parameter order.
func (tr *Training) ParamsGrads() [][2]string {
	out := make([][2]string, len(tr.Params))
	for i, p := range tr.Params {
		out[i] = [2]string{p, framework.GradVarName(p)}
	}
	return out
}

// NewTraining builds a training pair. The main program reads feed
// variable x, computes h_i = mul(x, p_i) per parameter, sums them into s
// and averages into loss; it then runs the backward ops and one optimizer
// op per parameter. The startup program initializes every parameter,
// the learning rate and the optimizer accumulators.
func NewTraining(opts TrainingOptions) *Training {
	if opts.Optimizer == "" {
		opts.Optimizer = SGD
	}
	if opts.ID == "" {
		opts.ID = "train"
	}
	tr := &Training{
		Main:    framework.NewProgram(nil, desc.WithID(opts.ID+"-main")),
		Startup: framework.NewProgram(nil, desc.WithID(opts.ID+"-startup")),
	}
	for _, ps := range opts.Params {
		tr.Params = append(tr.Params, ps.Name)
	}

	buildMain(tr.Main, opts)
	buildStartup(tr.Startup, opts)
	return tr
}

func floatVar(b *framework.Block, name string, shape []int64, persistable bool) {
	must.M1(b.CreateVar(framework.VarOptions{Name: name, Shape: shape, DType: dtypes.Float32, Persistable: persistable}))
}

// accumulators lists the optimizer state variables of param.
func accumulators(optimizer, param string) []string {
	if optimizer != Adam {
		return nil
	}
	return []string{
		param + "_moment1_0", param + "_moment2_0",
		param + "_beta1_pow_acc_0", param + "_beta2_pow_acc_0",
	}
}

func declareParams(b *framework.Block, opts TrainingOptions) {
	for _, ps := range opts.Params {
		must.M1(b.CreateParameter(framework.ParamOptions{Name: ps.Name, Shape: ps.Shape, DType: dtypes.Float32}))
	}
	floatVar(b, "learning_rate_0", []int64{1}, true)
	for _, ps := range opts.Params {
		for _, acc := range accumulators(opts.Optimizer, ps.Name) {
			floatVar(b, acc, []int64{1}, true)
		}
	}
}

func buildMain(p *framework.Program, opts TrainingOptions) {
	g := p.GlobalBlock()
	must.M1(g.CreateVar(framework.VarOptions{Name: "x", Shape: []int64{-1, 4}, DType: dtypes.Float32, NeedCheckFeed: true}))
	declareParams(g, opts)

	var hs []string
	for i := range opts.Params {
		h := fmt.Sprintf("h_%d", i)
		floatVar(g, h, nil, false)
		hs = append(hs, h)
	}
	floatVar(g, "s", nil, false)
	floatVar(g, "loss", []int64{1}, false)

	for i, ps := range opts.Params {
		Append(g, framework.OpSpec{Type: "mul", Inputs: In{"X": {"x"}, "Y": {ps.Name}}, Outputs: Out{"Out": {hs[i]}}})
	}
	Append(g,
		framework.OpSpec{Type: "sum", Inputs: In{"X": hs}, Outputs: Out{"Out": {"s"}}},
		framework.OpSpec{Type: "mean", Inputs: In{"X": {"s"}}, Outputs: Out{"Out": {"loss"}}},
	)

	must.M(p.WithBackwardRole(func() error {
		lossGrad := framework.GradVarName("loss")
		sGrad := framework.GradVarName("s")
		floatVar(g, lossGrad, []int64{1}, false)
		floatVar(g, sGrad, nil, false)
		Append(g,
			framework.OpSpec{Type: "fill_constant", Outputs: Out{"Out": {lossGrad}},
				Attrs: map[string]any{"shape": []int64{1}, "value": 1.0}},
			framework.OpSpec{Type: "mean_grad", Inputs: In{"X": {"s"}, "Out@GRAD": {lossGrad}}, Outputs: Out{"X@GRAD": {sGrad}}},
		)
		for i, ps := range opts.Params {
			hGrad := framework.GradVarName(hs[i])
			pGrad := framework.GradVarName(ps.Name)
			floatVar(g, hGrad, nil, false)
			floatVar(g, pGrad, ps.Shape, false)
			Append(g,
				framework.OpSpec{Type: "assign", Inputs: In{"X": {sGrad}}, Outputs: Out{"Out": {hGrad}}},
				framework.OpSpec{Type: "mul_grad", Inputs: In{"X": {"x"}, "Y": {ps.Name}, "Out@GRAD": {hGrad}},
					Outputs: Out{"Y@GRAD": {pGrad}}},
			)
		}
		return nil
	}))

	for _, ps := range opts.Params {
		pGrad := framework.GradVarName(ps.Name)
		must.M(p.WithOptimizeRole([]string{ps.Name, pGrad}, func() error {
			Append(g, optimizerOp(opts.Optimizer, ps.Name, pGrad))
			return nil
		}))
	}
}

func optimizerOp(optimizer, param, grad string) framework.OpSpec {
	if optimizer == Adam {
		acc := accumulators(Adam, param)
		return framework.OpSpec{Type: "adam",
			Inputs: In{"Param": {param}, "Grad": {grad}, "LearningRate": {"learning_rate_0"},
				"Moment1": {acc[0]}, "Moment2": {acc[1]}, "Beta1Pow": {acc[2]}, "Beta2Pow": {acc[3]}},
			Outputs: Out{"ParamOut": {param}, "Moment1Out": {acc[0]}, "Moment2Out": {acc[1]},
				"Beta1PowOut": {acc[2]}, "Beta2PowOut": {acc[3]}},
		}
	}
	return framework.OpSpec{Type: "sgd",
		Inputs:  In{"Param": {param}, "LearningRate": {"learning_rate_0"}, "Grad": {grad}},
		Outputs: Out{"ParamOut": {param}},
	}
}

func buildStartup(p *framework.Program, opts TrainingOptions) {
	g := p.GlobalBlock()
	declareParams(g, opts)
	for _, ps := range opts.Params {
		Append(g, framework.OpSpec{Type: "uniform_random", Outputs: Out{"Out": {ps.Name}},
			Attrs: map[string]any{"shape": ps.Shape}})
	}
	Append(g, framework.OpSpec{Type: "fill_constant", Outputs: Out{"Out": {"learning_rate_0"}},
		Attrs: map[string]any{"shape": []int64{1}, "value": 0.01}})
	for _, ps := range opts.Params {
		for _, acc := range accumulators(opts.Optimizer, ps.Name) {
			Append(g, framework.OpSpec{Type: "fill_constant", Outputs: Out{"Out": {acc}},
				Attrs: map[string]any{"shape": []int64{1}, "value": 0.0}})
		}
	}
}
