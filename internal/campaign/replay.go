package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/monitor"
)

// ReplayOptions selects the artifacts a replay executes.
type ReplayOptions struct {
	Dir        string
	Extensions []string // e.g. ".pdf"; empty accepts .pdf and .js
	// Follow keeps watching Dir for new artifacts until ctx is cancelled.
	Follow bool
	// Settle is how long a followed file must go without events before it
	// is executed, so a file written in several steps runs once, whole.
	// Zero means DefaultSettle.
	Settle time.Duration
}

// DefaultSettle is the quiet period follow mode waits for by default.
const DefaultSettle = 250 * time.Millisecond

func (o ReplayOptions) settle() time.Duration {
	if o.Settle > 0 {
		return o.Settle
	}
	return DefaultSettle
}

func (o ReplayOptions) accepts(path string) bool {
	exts := o.Extensions
	if len(exts) == 0 {
		exts = []string{".pdf", ".js"}
	}
	return slices.Contains(exts, strings.ToLower(filepath.Ext(path)))
}

// Replay executes existing artifacts instead of generating new ones. An
// artifact with a sequence sidecar keeps its test case ID; others are
// identified by the hash of their content.
func (c *Campaign) Replay(ctx context.Context, opts ReplayOptions) (Summary, error) {
	if len(c.executors) == 0 {
		return Summary{}, errors.New("campaign: replay needs at least one executor")
	}
	// The watcher is registered before the initial listing so nothing
	// written in between is missed.
	var watcher *fsnotify.Watcher
	if opts.Follow {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return Summary{}, fmt.Errorf("watch %s: %w", opts.Dir, err)
		}
		defer w.Close()
		if err := w.Add(opts.Dir); err != nil {
			return Summary{}, fmt.Errorf("watch %s: %w", opts.Dir, err)
		}
		watcher = w
	}

	existing, err := listArtifacts(opts)
	if err != nil {
		return Summary{}, err
	}
	dirs, err := c.slotDirs()
	if err != nil {
		return Summary{}, err
	}
	start := c.now()
	if err := c.begin(ctx, c.cfg.Mode, "replay"); err != nil {
		return Summary{}, err
	}

	jobs := make(chan monitor.Job, len(c.executors))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		seen := make(map[string]bool)
		enqueue := func(path string) bool {
			if seen[path] {
				return true
			}
			seen[path] = true
			job, err := c.replayJob(path)
			if err != nil {
				c.logger.Warn("skip artifact", "path", path, "error", err)
				return true
			}
			select {
			case jobs <- job:
				return true
			case <-gctx.Done():
				return false
			}
		}
		for _, path := range existing {
			if !enqueue(path) {
				return gctx.Err()
			}
		}
		if watcher == nil {
			return nil
		}
		return c.follow(gctx, watcher, opts, enqueue)
	})
	c.startSlots(gctx, g, jobs, dirs)

	err = g.Wait()
	summary := c.finish(ctx, start)
	if err != nil && !errors.Is(err, context.Canceled) {
		return summary, err
	}
	return summary, nil
}

// follow feeds artifacts created in the watched directory to enqueue
// once no event has touched them for the settle period.
func (c *Campaign) follow(ctx context.Context, w *fsnotify.Watcher, opts ReplayOptions, enqueue func(string) bool) error {
	c.logger.Info("following corpus", "dir", opts.Dir)
	settle := opts.settle()
	tick := time.NewTicker(max(settle/4, time.Millisecond))
	defer tick.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !opts.accepts(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				pending[event.Name] = time.Now().Add(settle)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(pending, event.Name)
			}
		case now := <-tick.C:
			for _, path := range settled(pending, now) {
				delete(pending, path)
				if !enqueue(path) {
					return ctx.Err()
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("corpus watcher", "error", err)
		}
	}
}

// settled returns the pending paths whose deadline has passed, sorted.
func settled(pending map[string]time.Time, now time.Time) []string {
	var out []string
	for path, deadline := range pending {
		if !now.Before(deadline) {
			out = append(out, path)
		}
	}
	slices.Sort(out)
	return out
}

func listArtifacts(opts ReplayOptions) ([]string, error) {
	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && opts.accepts(e.Name()) {
			paths = append(paths, filepath.Join(opts.Dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// replayJob builds the job for one artifact, restoring its sequence from
// the sidecar when one exists.
func (c *Campaign) replayJob(path string) (monitor.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return monitor.Job{}, err
	}
	job := monitor.Job{ID: ir.ArtifactID(data), Artifact: path}

	sidecar := strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
	raw, err := os.ReadFile(sidecar)
	if errors.Is(err, os.ErrNotExist) {
		return job, nil
	}
	if err != nil {
		return monitor.Job{}, err
	}
	var tc ir.TestCase
	if err := json.Unmarshal(raw, &tc); err != nil {
		c.logger.Warn("ignore sequence sidecar", "path", sidecar, "error", err)
		return job, nil
	}
	tc.Artifact = data
	job.ID = tc.ID
	job.TestCase = &tc
	return job, nil
}
