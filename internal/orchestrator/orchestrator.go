// Package orchestrator connects file changes to task reruns. Each debounced
// batch of changes is matched against the watch rules of the registry; every
// matching task is rerun once and, on success, announced to the reload
// channel.
package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/conneroisu/stagehand/internal/logging"
	"github.com/conneroisu/stagehand/internal/task"
	"github.com/conneroisu/stagehand/internal/watcher"
)

// Runner runs a single task by name.
type Runner interface {
	RunTask(ctx context.Context, name string) (task.Result, error)
}

// Matcher maps changed paths to the tasks watching them.
type Matcher interface {
	Match(paths []string) []string
}

// Notifier is told about every successful rerun.
type Notifier interface {
	TaskSucceeded(result task.Result)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(result task.Result)

func (f NotifierFunc) TaskSucceeded(result task.Result) { f(result) }

// taskState tracks one task: whether a run is in flight and whether another
// was requested meanwhile.
type taskState struct {
	running bool
	queued  bool
}

// Orchestrator reruns tasks in response to file changes. A rerun requested
// while the same task is running is coalesced into one follow-up run after
// the current one finishes. Running tasks are never interrupted.
type Orchestrator struct {
	runner   Runner
	matcher  Matcher
	notifier Notifier
	logger   logging.Logger

	ctx    context.Context
	mu     sync.Mutex
	closed bool
	states map[string]*taskState
	wg     sync.WaitGroup
}

// New creates an orchestrator. notifier may be nil.
func New(runner Runner, matcher Matcher, notifier Notifier, logger logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		runner:   runner,
		matcher:  matcher,
		notifier: notifier,
		logger:   logger.WithComponent("orchestrator"),
		ctx:      context.Background(),
		states:   make(map[string]*taskState),
	}
}

// Run binds the orchestrator to ctx and blocks until ctx is done and all
// in-flight runs have finished.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()

	<-ctx.Done()

	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.wg.Wait()
	return nil
}

// HandleChanges is a watcher.ChangeHandler. It returns immediately; matched
// tasks run in the background.
func (o *Orchestrator) HandleChanges(events []watcher.ChangeEvent) error {
	paths := make([]string, len(events))
	for i, e := range events {
		paths[i] = e.Path
	}

	names := o.matcher.Match(paths)
	if len(names) == 0 {
		o.logger.Debug(o.context(), "changes match no task", "paths", strings.Join(paths, ","))
		return nil
	}

	o.logger.Info(o.context(), "rebuilding", "tasks", strings.Join(names, ","), "changes", len(paths))
	for _, name := range names {
		o.Trigger(name)
	}
	return nil
}

// Trigger requests a run of the named task.
func (o *Orchestrator) Trigger(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.ctx.Err() != nil {
		return
	}

	state, ok := o.states[name]
	if !ok {
		state = &taskState{}
		o.states[name] = state
	}
	if state.running {
		state.queued = true
		return
	}

	state.running = true
	o.wg.Add(1)
	go o.loop(o.ctx, name, state)
}

// loop runs the task until no further run was requested.
func (o *Orchestrator) loop(ctx context.Context, name string, state *taskState) {
	defer o.wg.Done()

	for {
		o.runOnce(ctx, name)

		o.mu.Lock()
		if !state.queued || ctx.Err() != nil {
			state.running = false
			state.queued = false
			o.mu.Unlock()
			return
		}
		state.queued = false
		o.mu.Unlock()
	}
}

func (o *Orchestrator) runOnce(ctx context.Context, name string) {
	result, err := o.runner.RunTask(ctx, name)
	if err != nil {
		o.logger.Error(ctx, err, "cannot run task", "task", name)
		return
	}
	if result.Failed() {
		// Errors were logged by the runner; the browser keeps the last good
		// output.
		return
	}
	if o.notifier != nil {
		o.notifier.TaskSucceeded(result)
	}
}

func (o *Orchestrator) context() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctx
}
