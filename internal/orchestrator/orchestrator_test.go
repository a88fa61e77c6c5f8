package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/stagehand/internal/config"
	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/task"
	"github.com/conneroisu/stagehand/internal/watcher"
)

// fakeRunner records runs. Tasks listed in failing fail; a non-nil gate
// blocks every run until it receives a value.
type fakeRunner struct {
	mu      sync.Mutex
	runs    []string
	failing map[string]bool
	gate    chan struct{}
}

func (r *fakeRunner) RunTask(_ context.Context, name string) (task.Result, error) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.runs = append(r.runs, name)
	r.mu.Unlock()

	if name == "missing" {
		return task.Result{}, fmt.Errorf("unknown task %q", name)
	}
	result := task.Result{Task: name, Outputs: []string{"dist/" + name}}
	if r.failing[name] {
		result.Faults = []*errors.AssetError{errors.NewSyntaxError(errors.ErrCodeTemplateSyntax, "bad", nil)}
	}
	return result, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *fakeRunner) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	tasks []string
}

func (n *recordingNotifier) TaskSucceeded(result task.Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, result.Task)
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.tasks...)
}

func defaultRegistry(t *testing.T) *task.Registry {
	t.Helper()
	cfg, err := config.LoadFrom(viper.New())
	require.NoError(t, err)
	registry, err := task.Default(cfg, afero.NewMemMapFs())
	require.NoError(t, err)
	return registry
}

func startOrchestrator(t *testing.T, runner Runner, notifier Notifier) *Orchestrator {
	t.Helper()
	o := New(runner, defaultRegistry(t), notifier, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Run binds the context asynchronously.
	require.Eventually(t, func() bool { return o.context() == ctx }, time.Second, time.Millisecond)
	return o
}

func events(paths ...string) []watcher.ChangeEvent {
	out := make([]watcher.ChangeEvent, len(paths))
	for i, p := range paths {
		out[i] = watcher.ChangeEvent{Type: watcher.EventTypeModified, Path: p}
	}
	return out
}

func TestStylesChangeRerunsOnlyStyles(t *testing.T) {
	runner := &fakeRunner{}
	notifier := &recordingNotifier{}
	o := startOrchestrator(t, runner, notifier)

	require.NoError(t, o.HandleChanges(events("dev/static/styles/blocks/_header.scss")))

	require.Eventually(t, func() bool { return len(notifier.names()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{task.Styles}, runner.names())
	assert.Equal(t, []string{task.Styles}, notifier.names())
}

func TestBatchRunsEachMatchedTaskOnce(t *testing.T) {
	runner := &fakeRunner{}
	notifier := &recordingNotifier{}
	o := startOrchestrator(t, runner, notifier)

	require.NoError(t, o.HandleChanges(events(
		"dev/static/styles/a.scss",
		"dev/static/styles/b.scss",
		"dev/templates/pages/index.html",
		"README.md",
	)))

	require.Eventually(t, func() bool { return len(notifier.names()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{task.Pages, task.Styles}, runner.names())
}

func TestUnmatchedChangesRunNothing(t *testing.T) {
	runner := &fakeRunner{}
	o := startOrchestrator(t, runner, nil)

	require.NoError(t, o.HandleChanges(events("dev/static/fonts/inter.woff2", "notes.txt")))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runner.count())
}

func TestFailedTaskIsNotForwarded(t *testing.T) {
	runner := &fakeRunner{failing: map[string]bool{task.Pages: true}}
	notifier := &recordingNotifier{}
	o := startOrchestrator(t, runner, notifier)

	require.NoError(t, o.HandleChanges(events("dev/templates/pages/index.html", "dev/static/js/main.js")))

	require.Eventually(t, func() bool { return runner.count() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(notifier.names()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{task.Scripts}, notifier.names())
}

func TestRerunsWhileRunningAreCoalesced(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{})}
	notifier := &recordingNotifier{}
	o := startOrchestrator(t, runner, notifier)

	o.Trigger(task.Styles)
	for i := 0; i < 5; i++ {
		o.Trigger(task.Styles)
	}

	runner.gate <- struct{}{}
	runner.gate <- struct{}{}

	require.Eventually(t, func() bool { return len(notifier.names()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, runner.count(), "queued requests collapse into one follow-up run")

	o.Trigger(task.Styles)
	runner.gate <- struct{}{}
	require.Eventually(t, func() bool { return runner.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestRunnerErrorIsNotForwarded(t *testing.T) {
	runner := &fakeRunner{}
	notifier := &recordingNotifier{}
	o := startOrchestrator(t, runner, notifier)

	o.Trigger("missing")
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, notifier.names())
}

func TestRunWaitsForInFlightTasks(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{})}
	o := New(runner, defaultRegistry(t), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()
	require.Eventually(t, func() bool { return o.context() == ctx }, time.Second, time.Millisecond)

	o.Trigger(task.Scripts)
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a task was still running")
	case <-time.After(50 * time.Millisecond):
	}

	runner.gate <- struct{}{}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the task finished")
	}

	o.Trigger(task.Scripts)
	assert.Equal(t, 1, runner.count(), "no runs start after shutdown")
}
