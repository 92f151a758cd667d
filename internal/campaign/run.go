package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/scriptfuzz/internal/grammar"
	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/monitor"
)

// modeSalt separates the mode draw from the planner's own stream.
const modeSalt = 0x5bd1e995

// TestSeed derives the seed of test case index from the campaign seed.
func TestSeed(seed int64, index int) int64 {
	z := uint64(seed) + uint64(index)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

// ModeFor picks the generation mode of one test case. Relation campaigns
// mix in grammar-only cases at the configured ratio.
func (c *Campaign) ModeFor(seed int64) ir.Mode {
	if !c.cfg.Mode.UsesRelations() || c.cfg.GrammarOnlyRatio <= 0 {
		return c.cfg.Mode
	}
	if grammar.NewRand(seed^modeSalt).Float64() < c.cfg.GrammarOnlyRatio {
		return ir.ModeGrammarOnly
	}
	return c.cfg.Mode
}

// ArtifactName is the corpus file name of test case index.
func ArtifactName(index int, ext string) string {
	return fmt.Sprintf("%06d%s", index, ext)
}

// Run generates Count test cases and, unless the campaign is dry, executes
// each one. Per-test failures are logged and counted; only setup errors
// are returned. Cancelling ctx stops the campaign gracefully.
func (c *Campaign) Run(ctx context.Context) (Summary, error) {
	var dirs []string
	if !c.cfg.Dry {
		var err error
		if dirs, err = c.slotDirs(); err != nil {
			return Summary{}, err
		}
	}
	start := c.now()
	if err := c.begin(ctx, c.cfg.Mode, string(c.assembler.Format())); err != nil {
		return Summary{}, err
	}

	jobs := make(chan monitor.Job, max(len(c.executors), 1))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		return c.produce(gctx, jobs)
	})
	if !c.cfg.Dry {
		c.startSlots(gctx, g, jobs, dirs)
	}

	err := g.Wait()
	summary := c.finish(ctx, start)
	if err != nil && !errors.Is(err, context.Canceled) {
		return summary, err
	}
	return summary, nil
}

// produce plans and assembles test cases on GenWorkers goroutines.
func (c *Campaign) produce(ctx context.Context, jobs chan<- monitor.Job) error {
	gen, gctx := errgroup.WithContext(ctx)
	gen.SetLimit(c.cfg.GenWorkers)

	for i := 1; c.cfg.Count == 0 || i <= c.cfg.Count; i++ {
		if gctx.Err() != nil {
			break
		}
		gen.Go(func() error {
			job, ok := c.generate(gctx, i)
			if !ok || c.cfg.Dry {
				return nil
			}
			select {
			case jobs <- job:
			case <-gctx.Done():
			}
			return nil
		})
	}
	if err := gen.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// generate builds test case index and writes it to the corpus. Failures
// are logged and counted, never returned.
func (c *Campaign) generate(ctx context.Context, index int) (monitor.Job, bool) {
	began := time.Now()
	seed := TestSeed(c.cfg.Seed, index)
	mode := c.ModeFor(seed)
	log := c.logger.With("index", index, "mode", mode)

	tc, err := c.planner.Plan(ctx, index, seed, mode)
	if err != nil {
		if ctx.Err() != nil {
			return monitor.Job{}, false
		}
		c.genFailed(log, "plan", err)
		return monitor.Job{}, false
	}
	artifact, err := c.assembler.Assemble(tc)
	if err != nil {
		c.genFailed(log, "assemble", err)
		return monitor.Job{}, false
	}
	tc.Artifact = artifact

	path := filepath.Join(c.cfg.CorpusDir, ArtifactName(index, c.assembler.Format().Ext()))
	if err := c.writeCorpus(path, tc); err != nil {
		c.genFailed(log, "write corpus", err)
		return monitor.Job{}, false
	}
	if c.store != nil {
		if err := c.store.WriteTestCase(ctx, c.id, c.clock.Next(), tc, path); err != nil {
			log.Error("record test case", "error", err)
		}
	}

	c.counts.generated.Add(1)
	c.metrics.TestCaseGenerated(tc, time.Since(began))
	log.Debug("test case generated", "id", tc.ID, "calls", len(tc.Calls), "fallbacks", tc.Fallbacks, "dropped", tc.Dropped)
	return monitor.Job{ID: tc.ID, Artifact: path, TestCase: tc}, true
}

func (c *Campaign) genFailed(log *slog.Logger, stage string, err error) {
	c.counts.genFailures.Add(1)
	c.metrics.GenerationFailed()
	log.Warn("test case dropped", "stage", stage, "error", err)
}

// writeCorpus writes the artifact and its sequence sidecar. The artifact
// is renamed into place so a corpus watcher never sees a partial file.
func (c *Campaign) writeCorpus(path string, tc *ir.TestCase) error {
	sidecar, err := json.MarshalIndent(tc, "", "  ")
	if err != nil {
		return err
	}
	base := path[:len(path)-len(filepath.Ext(path))]
	if err := os.WriteFile(base+".json", append(sidecar, '\n'), 0o644); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, tc.Artifact, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// slotDirs creates one working directory per executor.
func (c *Campaign) slotDirs() ([]string, error) {
	dirs := make([]string, len(c.executors))
	for slot := range c.executors {
		dirs[slot] = filepath.Join(c.cfg.WorkDir, "slot-"+strconv.Itoa(slot))
		if err := os.MkdirAll(dirs[slot], 0o755); err != nil {
			return nil, fmt.Errorf("create slot directory: %w", err)
		}
	}
	return dirs, nil
}

// startSlots starts one goroutine per executor, draining jobs until the
// channel closes.
func (c *Campaign) startSlots(ctx context.Context, g *errgroup.Group, jobs <-chan monitor.Job, dirs []string) {
	for slot, exec := range c.executors {
		g.Go(func() error {
			for job := range jobs {
				job.Dir = dirs[slot]
				if !c.execute(ctx, exec, job) {
					return ctx.Err()
				}
			}
			return nil
		})
	}
}

// execute runs one job and records the result. It reports false once the
// campaign is stopping.
func (c *Campaign) execute(ctx context.Context, exec Executor, job monitor.Job) bool {
	c.metrics.ExecutionStarted()
	res, err := exec.Execute(ctx, job)
	c.metrics.ExecutionFinished(res)
	if res == nil {
		if ctx.Err() != nil {
			return false
		}
		c.logger.Error("execution failed", "id", job.ID, "error", err)
		return true
	}
	if err != nil {
		c.logger.Warn("evidence incomplete", "id", job.ID, "outcome", res.Outcome, "error", err)
	}
	c.record(ctx, res)
	return true
}

// record appends a result to every sink.
func (c *Campaign) record(ctx context.Context, res *ir.ExecutionResult) {
	seq := c.clock.Next()
	c.counts.record(res.Outcome)

	if c.runlog != nil {
		if err := c.runlog.Append(res); err != nil {
			c.logger.Error("append run log", "id", res.TestCaseID, "error", err)
		}
	}
	if c.store != nil {
		// A stopping campaign still records results it already has.
		if err := c.store.WriteExecution(context.WithoutCancel(ctx), c.id, seq, res); err != nil {
			c.logger.Error("record execution", "id", res.TestCaseID, "error", err)
		}
	}

	log := c.logger.With("id", res.TestCaseID, "outcome", res.Outcome, "duration", res.Duration.Round(time.Millisecond))
	if res.Outcome.Archived() {
		log.Info("finding", "evidence", res.Evidence, "detail", res.Detail)
	} else {
		log.Debug("execution classified")
	}
}
