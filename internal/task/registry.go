package task

import (
	"fmt"
	"io"

	"go.uber.org/multierr"

	"github.com/conneroisu/stagehand/internal/glob"
)

// Rule binds a set of watched paths to the task they trigger.
type Rule struct {
	Patterns glob.Set
	Task     string
}

// Entry declares a task and the patterns that re-run it. A nil Watch means
// the task only runs in full builds.
type Entry struct {
	Task  *Task
	Watch []string
}

// Registry is the declared, ordered list of tasks and their watch rules.
type Registry struct {
	tasks  []*Task
	byName map[string]*Task
	rules  []Rule
}

// NewRegistry validates entries and keeps them in declaration order. Task
// names and destinations must be unique.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Task, len(entries))}
	dests := make(map[string]string, len(entries))

	for _, e := range entries {
		t := e.Task
		if t == nil || t.Name == "" {
			return nil, fmt.Errorf("task registry: unnamed task")
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("task registry: duplicate task %q", t.Name)
		}
		if owner, dup := dests[t.Dest]; dup {
			return nil, fmt.Errorf("task registry: tasks %q and %q share destination %q", owner, t.Name, t.Dest)
		}
		if len(t.Files) == 0 && len(t.Sources.Patterns()) == 0 {
			return nil, fmt.Errorf("task registry: task %q has no sources", t.Name)
		}

		if len(e.Watch) > 0 {
			patterns, err := glob.New(e.Watch...)
			if err != nil {
				return nil, fmt.Errorf("task registry: watch patterns of %q: %w", t.Name, err)
			}
			r.rules = append(r.rules, Rule{Patterns: patterns, Task: t.Name})
		}

		r.tasks = append(r.tasks, t)
		r.byName[t.Name] = t
		dests[t.Dest] = t.Name
	}

	return r, nil
}

// Tasks returns the tasks in declaration order.
func (r *Registry) Tasks() []*Task {
	out := make([]*Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

func (r *Registry) Task(name string) (*Task, bool) {
	t, ok := r.byName[name]
	return t, ok
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.tasks))
	for i, t := range r.tasks {
		names[i] = t.Name
	}
	return names
}

func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Match returns, in declaration order and without duplicates, the tasks
// whose watch rules match any of paths.
func (r *Registry) Match(paths []string) []string {
	var names []string
	for _, rule := range r.rules {
		for _, p := range paths {
			if rule.Patterns.Match(p) {
				names = append(names, rule.Task)
				break
			}
		}
	}
	return names
}

// Close releases the resources held by task steps, such as a running Dart
// Sass process.
func (r *Registry) Close() error {
	var err error
	for _, t := range r.tasks {
		for _, step := range t.Steps {
			if c, ok := step.(io.Closer); ok {
				err = multierr.Append(err, c.Close())
			}
		}
	}
	return err
}
