package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/graphir/internal/distributed"
	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/passes"
	"github.com/roach88/graphir/internal/store"
)

// ShardConfigFile is the YAML form of a shard run:
//
//	stage: 1
//	sharding_degree: 2
//	global_rank: 0
//	params_grads:            # optional, every trainable parameter by default
//	  - {param: p0, grad: p0@GRAD}
//	annotations:
//	  meshes:
//	    dp: {shape: [2], process_ids: [0, 1]}
//	  tensors:
//	    x: {mesh: dp, dims_mapping: [0, -1]}
type ShardConfigFile struct {
	passes.ShardingConfig `yaml:",inline"`
	Annotations           *distributed.Annotations `yaml:"annotations,omitempty"`
}

// LoadShardConfig reads a shard config file, rejecting unknown fields.
func LoadShardConfig(path string) (*ShardConfigFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: "config file not found"}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: err.Error()}
	}
	var cfg ShardConfigFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, &LoadError{Code: ErrCodeBadInput, Path: path, Message: err.Error()}
	}
	return &cfg, nil
}

// ShardOptions holds flags for the shard command.
type ShardOptions struct {
	*RootOptions
	Main        string
	Startup     string
	Config      string
	Annotations string
	Stage       int
	Degree      int
	Rank        int
	OutDir      string
	Database    string
}

// ShardReport is the JSON payload of a successful shard run.
type ShardReport struct {
	Main           string         `json:"main"`
	Startup        string         `json:"startup"`
	Summary        map[string]any `json:"summary"`
	LocalElements  int64          `json:"local_elements"`
	TotalElements  int64          `json:"total_elements"`
	MainBefore     string         `json:"main_before"`
	MainAfter      string         `json:"main_after"`
	StartupBefore  string         `json:"startup_before"`
	StartupAfter   string         `json:"startup_after"`
	Written        []string       `json:"written,omitempty"`
	PassRunID      int64          `json:"pass_run_id,omitempty"`
	groupRanks     []int
	localRank      int
	localParams    []string
	cfg            passes.ShardingConfig
	removedMain    int
	removedStartup int
}

// NewShardCommand creates the shard command.
func NewShardCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShardOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "shard",
		Short: "Shard optimizer state of a main/startup program pair",
		Long: `Run the parameter sharding pass on a main/startup program pair.

Optimizer ops and state of parameters owned by other ranks are pruned and
every parameter is broadcast from its owner. Flags override the values of
the config file.

Exit codes:
  0 - The pass succeeded
  1 - A pass precondition failed; the programs are not written
  2 - Command error (missing files, bad config, etc.)

Examples:
  graphir shard --main train-main.gir --startup train-startup.gir --config shard.yaml
  graphir shard --main m.gir --startup s.gir --config shard.yaml --rank 1 --out-dir rank1
  graphir shard --main m.gir --startup s.gir --config shard.yaml --db history.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShard(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Main, "main", "", "main program file (required)")
	cmd.Flags().StringVar(&opts.Startup, "startup", "", "startup program file (required)")
	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "shard config YAML file")
	cmd.Flags().StringVar(&opts.Annotations, "annotations", "", "annotations YAML file (replaces the config's annotations)")
	cmd.Flags().IntVar(&opts.Stage, "stage", 1, "sharding stage (1-3)")
	cmd.Flags().IntVar(&opts.Degree, "degree", 0, "sharding degree")
	cmd.Flags().IntVar(&opts.Rank, "rank", 0, "global rank of this process")
	cmd.Flags().StringVarP(&opts.OutDir, "out-dir", "o", "", "directory for the rewritten program files")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite store recording program versions and the pass run")
	_ = cmd.MarkFlagRequired("main")
	_ = cmd.MarkFlagRequired("startup")

	return cmd
}

// shardConfig merges the config file with the flags set on cmd.
func shardConfig(opts *ShardOptions, cmd *cobra.Command) (*ShardConfigFile, error) {
	cfg := &ShardConfigFile{ShardingConfig: passes.ShardingConfig{Stage: 1}}
	if opts.Config != "" {
		loaded, err := LoadShardConfig(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("stage") {
		cfg.Stage = opts.Stage
	}
	if flags.Changed("degree") {
		cfg.Degree = opts.Degree
	}
	if flags.Changed("rank") {
		cfg.GlobalRank = opts.Rank
	}
	if opts.Annotations != "" {
		a, err := readAnnotations(opts.Annotations)
		if err != nil {
			return nil, err
		}
		cfg.Annotations = a
	}
	return cfg, nil
}

// defaultParamsGrads pairs every trainable parameter of main with its
// gradient.
func defaultParamsGrads(main *framework.Program) []passes.ParamGrad {
	var out []passes.ParamGrad
	for _, p := range main.AllParameters() {
		if p.Trainable() {
			out = append(out, passes.ParamGrad{Param: p.Name(), Grad: framework.GradVarName(p.Name())})
		}
	}
	return out
}

// configMap is the persisted form of a sharding config.
func configMap(cfg passes.ShardingConfig) map[string]any {
	pgs := make([]any, len(cfg.ParamsGrads))
	for i, pg := range cfg.ParamsGrads {
		pgs[i] = map[string]any{"param": pg.Param, "grad": pg.Grad}
	}
	return map[string]any{
		"stage":           cfg.Stage,
		"sharding_degree": cfg.Degree,
		"global_rank":     cfg.GlobalRank,
		"params_grads":    pgs,
	}
}

func runShard(opts *ShardOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	reg, err := loadRegistry(opts.RootOptions)
	if err != nil {
		return f.Fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}
	main, err := readProgram(opts.Main, reg)
	if err != nil {
		return f.Fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}
	startup, err := readProgram(opts.Startup, reg)
	if err != nil {
		return f.Fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}
	cfg, err := shardConfig(opts, cmd)
	if err != nil {
		return f.Fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}
	if len(cfg.ParamsGrads) == 0 {
		cfg.ParamsGrads = defaultParamsGrads(main)
	}

	dist := distributed.NewDistContext()
	if cfg.Annotations != nil {
		if err := dist.Apply(cfg.Annotations, main, startup); err != nil {
			return f.Fail(ExitCommandError, ErrCodeBadInput, err.Error(), nil)
		}
		tensors, ops := dist.NumAnnotations(main.ID())
		f.VerboseLog("Annotated %d tensors and %d ops of %s", tensors, ops, main.ID())
	}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("open store: %v", err), nil)
		}
		defer st.Close()
	}

	report := &ShardReport{Main: main.ID(), Startup: startup.ID(), cfg: cfg.ShardingConfig}
	if report.MainBefore, err = main.Fingerprint(); err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
	}
	if report.StartupBefore, err = startup.Fingerprint(); err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
	}
	if st != nil {
		if err := saveVersions(ctx, st, "input", main, startup); err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
		}
	}

	pctx := passes.NewContext(dist)
	passErr := catch(func() error {
		return passes.Run(pctx, main, startup, &passes.ShardingPass{Config: cfg.ShardingConfig})
	})

	run := store.PassRun{
		Pass:           passes.ShardingPassName,
		Config:         configMap(cfg.ShardingConfig),
		MainProgram:    main.ID(),
		StartupProgram: startup.ID(),
		MainBefore:     report.MainBefore,
		StartupBefore:  report.StartupBefore,
	}
	if passErr != nil {
		code := errorCode(passErr, ErrCodeGeneric)
		if st != nil {
			run.ErrorCode, run.ErrorMessage = code, passErr.Error()
			if _, err := st.RecordPassRun(ctx, run); err != nil {
				return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
			}
		}
		return f.Fail(ExitFailure, code, passErr.Error(), configMap(cfg.ShardingConfig))
	}

	applied := pctx.Applied()
	report.Summary = applied[len(applied)-1].Summary
	if v, ok := pctx.Get("sharding_info"); ok {
		info := v.(*passes.ShardingInfo)
		report.groupRanks = info.Group.Ranks
		report.localRank = info.LocalRank
		report.localParams = info.LocalParams()
		for _, p := range info.Params {
			n, _ := main.GlobalBlock().Var(p).NumElements()
			report.TotalElements += n
			if info.IsInLocalShard(p) {
				report.LocalElements += n
			}
		}
	}
	report.removedMain, _ = report.Summary["removed_main_ops"].(int)
	report.removedStartup, _ = report.Summary["removed_startup_ops"].(int)
	report.MainAfter, _ = main.Fingerprint()
	report.StartupAfter, _ = startup.Fingerprint()

	if st != nil {
		run.MainAfter, run.StartupAfter, run.Summary = report.MainAfter, report.StartupAfter, report.Summary
		if err := saveVersions(ctx, st, passes.ShardingPassName, main, startup); err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
		}
		if report.PassRunID, err = st.RecordPassRun(ctx, run); err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
		}
	}

	if opts.OutDir != "" {
		for _, p := range []*framework.Program{main, startup} {
			path := filepath.Join(opts.OutDir, p.ID()+ProgramExt)
			if err := writeProgram(p, path); err != nil {
				return f.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error(), nil)
			}
			report.Written = append(report.Written, path)
		}
	}

	return f.Success(report, report.text())
}

func saveVersions(ctx context.Context, st *store.Store, label string, programs ...*framework.Program) error {
	for _, p := range programs {
		if _, _, err := st.SaveProgram(ctx, p, label); err != nil {
			return err
		}
	}
	return nil
}

func (r *ShardReport) text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sharded %s / %s (stage %d, degree %d, rank %d)\n",
		r.Main, r.Startup, r.cfg.Stage, r.cfg.Degree, r.cfg.GlobalRank)
	fmt.Fprintf(&sb, "  group: ranks %v, local rank %d\n", r.groupRanks, r.localRank)
	fmt.Fprintf(&sb, "  local params: %s (%s of %s elements)\n",
		strings.Join(r.localParams, ", "), humanize.Comma(r.LocalElements), humanize.Comma(r.TotalElements))
	fmt.Fprintf(&sb, "  removed ops: %d main, %d startup\n", r.removedMain, r.removedStartup)
	fmt.Fprintf(&sb, "  broadcasts: %v\n", r.Summary["broadcasts"])
	fmt.Fprintf(&sb, "  main: %s -> %s\n", short(r.MainBefore), short(r.MainAfter))
	for _, path := range r.Written {
		fmt.Fprintf(&sb, "  wrote %s\n", path)
	}
	if r.PassRunID != 0 {
		fmt.Fprintf(&sb, "  recorded pass run %d\n", r.PassRunID)
	}
	return sb.String()
}

// short abbreviates a fingerprint for text output.
func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
