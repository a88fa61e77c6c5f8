// Package build runs the task registry: a clean of the output tree followed
// by every task in parallel, or a single task on demand. It owns the output
// claim ledger that keeps tasks from overwriting each other's files.
package build

import (
	"context"
	stderrors "errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/logging"
	"github.com/conneroisu/stagehand/internal/task"
)

// Options configures a Plan.
type Options struct {
	// Source and Output are the project-relative source and output roots.
	Source string
	Output string
	// Workers caps the number of tasks running at once.
	Workers   int
	Logger    logging.Logger
	Collector *errors.Collector
}

// Plan executes the tasks of a registry against the project filesystem.
type Plan struct {
	fs        afero.Fs
	registry  *task.Registry
	source    string
	output    string
	workers   int
	logger    logging.Logger
	collector *errors.Collector
	metrics   *Metrics

	// claims maps every written output path to the task that wrote it.
	claims sync.Map

	mu     sync.RWMutex
	latest map[string]task.Result
}

// NewPlan creates a plan. fsys is rooted at the project root.
func NewPlan(fsys afero.Fs, registry *task.Registry, opts Options) *Plan {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Collector == nil {
		opts.Collector = errors.NewCollector()
	}

	return &Plan{
		fs:        fsys,
		registry:  registry,
		source:    path.Clean(opts.Source),
		output:    path.Clean(opts.Output),
		workers:   opts.Workers,
		logger:    opts.Logger.WithComponent("build"),
		collector: opts.Collector,
		metrics:   NewMetrics(),
		latest:    make(map[string]task.Result),
	}
}

// Clean removes the output tree. A missing tree is not an error. It refuses
// to remove the project root or anything containing the source root.
func (p *Plan) Clean(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case p.output == "." || p.output == "" || p.output == "/":
		return errors.NewIOError(errors.ErrCodeCleanFailed, "refusing to remove the project root", nil).WithFile(p.output)
	case p.output == p.source || strings.HasPrefix(p.source, p.output+"/"):
		return errors.NewIOError(errors.ErrCodeCleanFailed, "refusing to remove a directory containing the sources", nil).WithFile(p.output)
	}

	if err := p.fs.RemoveAll(p.output); err != nil {
		return errors.NewIOError(errors.ErrCodeCleanFailed, "cannot remove output tree", err).WithFile(p.output)
	}

	p.claims.Range(func(key, _ any) bool {
		p.claims.Delete(key)
		return true
	})

	p.logger.Debug(ctx, "output tree removed", "path", p.output)
	return nil
}

// Build cleans the output tree, then runs every task concurrently and waits
// for all of them. The error is non-nil only when cleaning failed; task
// failures are reported in the Report.
func (p *Plan) Build(ctx context.Context) (*Report, error) {
	start := time.Now()

	if err := p.Clean(ctx); err != nil {
		return nil, err
	}

	report, err := p.Run(ctx)
	if err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)
	p.metrics.RecordBuild(report.Duration)
	return report, nil
}

// Run runs the named tasks, or every task when no name is given,
// concurrently and waits for all of them. It does not clean. Unknown names
// are an error and nothing runs.
func (p *Plan) Run(ctx context.Context, names ...string) (*Report, error) {
	start := time.Now()

	tasks := p.registry.Tasks()
	if len(names) > 0 {
		tasks = make([]*task.Task, 0, len(names))
		for _, name := range names {
			t, ok := p.registry.Task(name)
			if !ok {
				return nil, fmt.Errorf("unknown task %q, expected one of %s", name, strings.Join(p.registry.Names(), ", "))
			}
			tasks = append(tasks, t)
		}
	}

	workers := pool.NewWithResults[task.Result]().WithMaxGoroutines(p.workers)
	for _, t := range tasks {
		workers.Go(func() task.Result {
			return p.run(ctx, t)
		})
	}
	results := workers.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Task < results[j].Task })
	report := &Report{Results: results, Duration: time.Since(start)}

	if failed := report.Failed(); len(failed) > 0 {
		p.logger.Error(ctx, report.Err(), "build finished with failures",
			"failed", strings.Join(failed, ","), "duration", report.Duration.Round(time.Millisecond).String())
	} else {
		p.logger.Info(ctx, "build finished",
			"tasks", len(results), "duration", report.Duration.Round(time.Millisecond).String())
	}

	return report, nil
}

// RunTask runs a single registered task.
func (p *Plan) RunTask(ctx context.Context, name string) (task.Result, error) {
	t, ok := p.registry.Task(name)
	if !ok {
		return task.Result{}, fmt.Errorf("unknown task %q", name)
	}
	return p.run(ctx, t), nil
}

func (p *Plan) run(ctx context.Context, t *task.Task) task.Result {
	p.release(t.Name)

	op := logging.StartOperation(p.logger.With("task", t.Name), "task:"+t.Name)
	result := t.Run(ctx, p.fs, claimWriter{plan: p})

	for _, f := range result.Faults {
		if f.Fails() {
			op.Error(ctx, f, "asset failed")
		} else {
			op.Warn(ctx, f, "asset skipped")
		}
	}
	if result.Failed() {
		op.EndWithError(ctx, result.Err, "task failed", "outputs", len(result.Outputs), "faults", len(result.Faults))
	} else {
		op.End(ctx, "task finished", "outputs", len(result.Outputs))
	}

	p.collector.Replace(t.Name, collectable(result))
	p.metrics.RecordRun(result)

	p.mu.Lock()
	p.latest[t.Name] = result
	p.mu.Unlock()

	return result
}

// release drops the claims of a task's previous run so a rerun may write the
// same paths again.
func (p *Plan) release(taskName string) {
	p.claims.Range(func(key, owner any) bool {
		if owner == taskName {
			p.claims.CompareAndDelete(key, owner)
		}
		return true
	})
}

// Latest returns the most recent result of every task that has run, sorted
// by task name.
func (p *Plan) Latest() []task.Result {
	p.mu.RLock()
	defer p.mu.RUnlock()

	results := make([]task.Result, 0, len(p.latest))
	for _, r := range p.latest {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Task < results[j].Task })
	return results
}

func (p *Plan) Metrics() *Metrics {
	return p.metrics
}

func (p *Plan) Collector() *errors.Collector {
	return p.collector
}

func (p *Plan) Registry() *task.Registry {
	return p.registry
}

// Output is the output root the plan writes below.
func (p *Plan) Output() string {
	return p.output
}

// claimWriter records ownership of every output before writing it.
type claimWriter struct {
	plan *Plan
}

func (w claimWriter) Write(taskName, p string, data []byte) error {
	if owner, loaded := w.plan.claims.LoadOrStore(p, taskName); loaded && owner != taskName {
		return errors.ErrOutputCollision(p, owner.(string))
	}
	return task.FSWriter{Fs: w.plan.fs}.Write(taskName, p, data)
}

// collectable flattens a result into the faults shown to the operator.
func collectable(result task.Result) []*errors.AssetError {
	faults := append([]*errors.AssetError(nil), result.Faults...)
	if result.Err != nil {
		var ae *errors.AssetError
		if !stderrors.As(result.Err, &ae) {
			ae = errors.NewInternalError(errors.ErrCodeInternalError, "task aborted", result.Err).WithTask(result.Task)
		}
		faults = append(faults, ae)
	}
	return faults
}
