package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/graphir/internal/distributed"
	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/passes"
	"github.com/roach88/graphir/internal/testutil"
)

// ExampleConfigFile is the name of the shard config written by the
// example command.
const ExampleConfigFile = "shard.yaml"

// ExampleOptions holds flags for the example command.
type ExampleOptions struct {
	*RootOptions
	Optimizer string
	Params    []string
	ID        string
	Degree    int
}

// NewExampleCommand creates the example command.
func NewExampleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExampleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "example <dir>",
		Short: "Write a sample training program pair and shard config",
		Long: `Write a small data-parallel training program pair and a matching
shard config into <dir>. Parameters are given as name=shape with the
dimensions separated by "x".

Examples:
  graphir example ./demo
  graphir example ./demo --optimizer adam --param w0=10x10 --param w1=5x10
  graphir shard --main demo/train-main.gir --startup demo/train-startup.gir -c demo/shard.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExample(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Optimizer, "optimizer", testutil.SGD, "optimizer (sgd|adam)")
	cmd.Flags().StringArrayVar(&opts.Params, "param", []string{"p0=10x10", "p1=10x10"}, "parameter as name=shape")
	cmd.Flags().StringVar(&opts.ID, "id", "train", "program id prefix")
	cmd.Flags().IntVar(&opts.Degree, "degree", 2, "sharding degree of the config")

	return cmd
}

// parseParamSpec parses "name=AxB".
func parseParamSpec(s string) (testutil.ParamSpec, error) {
	name, shape, ok := strings.Cut(s, "=")
	if !ok || name == "" || shape == "" {
		return testutil.ParamSpec{}, fmt.Errorf("parameter %q: want name=shape", s)
	}
	spec := testutil.ParamSpec{Name: name}
	for _, d := range strings.Split(shape, "x") {
		n, err := strconv.ParseInt(d, 10, 64)
		if err != nil || n <= 0 {
			return testutil.ParamSpec{}, fmt.Errorf("parameter %q: bad dimension %q", s, d)
		}
		spec.Shape = append(spec.Shape, n)
	}
	return spec, nil
}

// exampleConfig shards every parameter across Degree ranks of a flat data
// parallel mesh with the feed batch split along it.
func exampleConfig(degree int, tr *testutil.Training) ShardConfigFile {
	ranks := make([]int, degree)
	for i := range ranks {
		ranks[i] = i
	}
	cfg := ShardConfigFile{
		ShardingConfig: passes.ShardingConfig{Stage: 1, Degree: degree},
		Annotations: &distributed.Annotations{
			Meshes: map[string]distributed.MeshSpec{
				"dp": {Shape: []int{degree}, ProcessIDs: ranks},
			},
			Tensors: map[string]distributed.TensorSpec{
				"x": {Mesh: "dp", DimsMapping: []int{0, -1}},
			},
		},
	}
	for _, pg := range tr.ParamsGrads() {
		cfg.ParamsGrads = append(cfg.ParamsGrads, passes.ParamGrad{Param: pg[0], Grad: pg[1]})
	}
	return cfg
}

func runExample(opts *ExampleOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Optimizer != testutil.SGD && opts.Optimizer != testutil.Adam {
		return f.Fail(ExitCommandError, ErrCodeBadInput, fmt.Sprintf("unknown optimizer %q", opts.Optimizer), nil)
	}
	if opts.Degree < 2 {
		return f.Fail(ExitCommandError, ErrCodeBadInput, "--degree must be at least 2", nil)
	}
	var specs []testutil.ParamSpec
	seen := map[string]bool{}
	for _, s := range opts.Params {
		spec, err := parseParamSpec(s)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeBadInput, err.Error(), nil)
		}
		if seen[spec.Name] {
			return f.Fail(ExitCommandError, ErrCodeBadInput, fmt.Sprintf("duplicate parameter %q", spec.Name), nil)
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return f.Fail(ExitCommandError, ErrCodeBadInput, "at least one --param is required", nil)
	}

	var tr *testutil.Training
	if err := catch(func() error {
		tr = testutil.NewTraining(testutil.TrainingOptions{Params: specs, Optimizer: opts.Optimizer, ID: opts.ID})
		return nil
	}); err != nil {
		return f.Fail(ExitFailure, errorCode(err, ErrCodeGeneric), err.Error(), nil)
	}

	var written []string
	for _, p := range []*framework.Program{tr.Main, tr.Startup} {
		path := filepath.Join(dir, p.ID()+ProgramExt)
		if err := writeProgram(p, path); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error(), nil)
		}
		written = append(written, path)
	}

	data, err := yaml.Marshal(exampleConfig(opts.Degree, tr))
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
	}
	cfgPath := filepath.Join(dir, ExampleConfigFile)
	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return f.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error(), nil)
	}
	written = append(written, cfgPath)

	var sb strings.Builder
	for _, path := range written {
		fmt.Fprintf(&sb, "wrote %s\n", path)
	}
	return f.Success(map[string]any{"written": written, "params": tr.Params}, sb.String())
}
