package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/scriptfuzz/internal/assemble"
	"github.com/roach88/scriptfuzz/internal/campaign"
	"github.com/roach88/scriptfuzz/internal/compiler"
	"github.com/roach88/scriptfuzz/internal/config"
	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/monitor"
	"github.com/roach88/scriptfuzz/internal/planner"
	"github.com/roach88/scriptfuzz/internal/relation"
	"github.com/roach88/scriptfuzz/internal/solver"
	"github.com/roach88/scriptfuzz/internal/spec"
)

// loadConfig reads the file named by --config.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, &stageError{code: ErrCodeConfig, msg: "failed to load config", err: err}
	}
	return cfg, nil
}

// stageError remembers which loading stage failed, for the JSON error code.
type stageError struct {
	code string
	msg  string
	err  error
}

func (e *stageError) Error() string { return e.msg + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// fail reports a loading error. Loading errors are always fatal.
func fail(f *OutputFormatter, err error) error {
	var se *stageError
	if errors.As(err, &se) {
		return f.Fail(ExitCommandError, se.code, se.msg, se.err)
	}
	return f.Fail(ExitCommandError, ErrCodeGeneric, "command failed", err)
}

// pipeline is everything a campaign needs before it can generate.
type pipeline struct {
	cfg       config.Config
	specs     *spec.Store
	lists     *spec.Lists
	graph     *relation.Graph // nil in grammar-only mode
	solver    *solver.Solver
	planner   *planner.Planner
	assembler *assemble.Assembler
}

// loadPipeline loads the specification, the lists and, in relation modes,
// the relationship graph, then builds the planner and the assembler.
func loadPipeline(cfg config.Config, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{cfg: cfg}

	specOpts := []spec.Option{spec.WithLogger(logger)}
	if cfg.Planner.MaxDepth > 0 {
		specOpts = append(specOpts, spec.WithMaxDepth(cfg.Planner.MaxDepth))
	}
	specs, err := spec.Load(cfg.Paths.Specs, specOpts...)
	if err != nil {
		return nil, &stageError{code: ErrCodeSpecs, msg: "failed to load specification", err: err}
	}
	p.specs = specs
	for _, w := range specs.Warnings() {
		logger.Warn("recursive grammar rule", "rule", w.Rule, "cycle", w.Path)
	}
	logger.Info("specification loaded", "files", specs.Files(), "apis", len(specs.Names()), "objects", len(specs.Objects()))

	lists, err := spec.LoadLists(cfg.Paths.Blocklist, cfg.Paths.Limitlist)
	if err != nil {
		return nil, &stageError{code: ErrCodeLists, msg: "failed to load block/limit lists", err: err}
	}
	p.lists = lists

	mode := ir.Mode(cfg.Campaign.Mode)
	if mode.UsesRelations() {
		doc, err := compiler.CompileRelationsFile(cfg.Paths.Relations)
		if err != nil {
			return nil, &stageError{code: ErrCodeRelation, msg: "failed to compile relationship document", err: err}
		}
		if errs := compiler.ValidateRelations(doc); len(errs) > 0 {
			return nil, &stageError{code: ErrCodeRelation, msg: "invalid relationship document", err: joinValidation(errs)}
		}
		g, err := relation.New(doc, specs, relation.WithLenient(true), relation.WithLogger(logger))
		if err != nil {
			return nil, &stageError{code: ErrCodeRelation, msg: "failed to build relationship graph", err: err}
		}
		weak, strong, skipped := g.Stats()
		logger.Info("relationship graph loaded", "weak", weak, "strong", strong, "skipped", skipped)
		p.graph = g
	}

	p.solver = solver.New(solver.WithTimeout(cfg.Planner.SolverTimeout), solver.WithLogger(logger))

	opts := []planner.Option{
		planner.WithConfig(plannerConfig(cfg)),
		planner.WithSolver(p.solver),
		planner.WithLists(lists),
		planner.WithLogger(logger),
	}
	if p.graph != nil {
		opts = append(opts, planner.WithGraph(p.graph))
	}
	pl, err := planner.New(specs, opts...)
	if err != nil {
		return nil, &stageError{code: ErrCodeSpecs, msg: "failed to build planner", err: err}
	}
	p.planner = pl

	format, err := assemble.ParseFormat(cfg.Campaign.Format)
	if err != nil {
		return nil, &stageError{code: ErrCodeConfig, msg: "invalid artifact format", err: err}
	}
	p.assembler = assemble.New(specs, assemble.WithFormat(format), assemble.WithInstances(cfg.Campaign.Instances))
	return p, nil
}

// plannerConfig maps the file's planner section onto planner.Config. Zero
// values keep the planner defaults.
func plannerConfig(cfg config.Config) planner.Config {
	pc := planner.DefaultConfig()
	pc.Length = cfg.Campaign.Length
	if cfg.Planner.WeakBias > 0 {
		pc.WeakBias = cfg.Planner.WeakBias
	}
	if cfg.Planner.TopK > 0 {
		pc.TopK = cfg.Planner.TopK
	}
	if cfg.Planner.LoopProbability > 0 {
		pc.LoopProbability = cfg.Planner.LoopProbability
	}
	if cfg.Planner.HookMax > 0 {
		pc.HookMin = cfg.Planner.HookMin
		pc.HookMax = cfg.Planner.HookMax
	}
	pc.MaxDepth = cfg.Planner.MaxDepth
	if cfg.Planner.RetroPolicy != "" {
		pc.RetroPolicy = planner.RetroPolicy(cfg.Planner.RetroPolicy)
	}
	return pc
}

// executors builds one monitor per execution slot.
func executors(cfg config.Config, logger *slog.Logger) ([]campaign.Executor, error) {
	execs := make([]campaign.Executor, cfg.Campaign.ExecSlots)
	for i := range execs {
		slotLog := logger.With("slot", i)
		drv, err := monitor.NewExecDriver(cfg.Target.ErrorPatterns, monitor.WithDriverLogger(slotLog))
		if err != nil {
			return nil, &stageError{code: ErrCodeConfig, msg: "invalid error pattern", err: err}
		}
		mon, err := monitor.New(drv, monitor.Config{
			Command:           cfg.Target.Command,
			Env:               cfg.Target.Env,
			Heartbeat:         cfg.Target.Heartbeat,
			HangTimeout:       cfg.Monitor.HangTimeout,
			PollInterval:      cfg.Monitor.PollInterval,
			ObservationWindow: cfg.Monitor.ObservationWindow,
			ErrorGrace:        cfg.Monitor.ErrorGrace,
			DumpCommand:       cfg.Target.DumpCommand,
			ArchiveDir:        cfg.Paths.Archive,
		}, monitor.WithLogger(slotLog))
		if err != nil {
			return nil, &stageError{code: ErrCodeConfig, msg: "invalid monitor configuration", err: err}
		}
		execs[i] = mon
	}
	return execs, nil
}

// campaignConfig maps the file onto campaign.Config.
func campaignConfig(cfg config.Config) campaign.Config {
	snapshot, err := json.Marshal(cfg)
	if err != nil {
		snapshot = []byte("{}")
	}
	return campaign.Config{
		Count:            cfg.Campaign.Count,
		Mode:             ir.Mode(cfg.Campaign.Mode),
		Seed:             cfg.Campaign.Seed,
		GrammarOnlyRatio: cfg.Campaign.GrammarOnlyRatio,
		GenWorkers:       cfg.Campaign.GenWorkers,
		Dry:              cfg.Campaign.Dry,
		Target:           cfg.Target.Name,
		CorpusDir:        cfg.Paths.Corpus,
		RunLog:           cfg.Paths.RunLog,
		Snapshot:         string(snapshot),
	}
}

func joinValidation(errs []compiler.ValidationError) error {
	msg := fmt.Sprintf("%d error(s)", len(errs))
	for _, e := range errs {
		msg += "\n  " + e.Error()
	}
	return errors.New(msg)
}
