package build

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/stagehand/internal/task"
)

// Report is the outcome of a full build, results sorted by task name.
type Report struct {
	Results  []task.Result
	Duration time.Duration
}

// Failed lists the names of the failed tasks.
func (r *Report) Failed() []string {
	var names []string
	for _, result := range r.Results {
		if result.Failed() {
			names = append(names, result.Task)
		}
	}
	return names
}

// Err combines the failures of every failed task, or returns nil.
func (r *Report) Err() error {
	var err error
	for _, result := range r.Results {
		if !result.Failed() {
			continue
		}
		if result.Err != nil {
			err = multierr.Append(err, result.Err)
			continue
		}
		for _, f := range result.Faults {
			if f.Fails() {
				err = multierr.Append(err, f)
			}
		}
	}
	return err
}

// Result returns the result of the named task.
func (r *Report) Result(name string) (task.Result, bool) {
	for _, result := range r.Results {
		if result.Task == name {
			return result, true
		}
	}
	return task.Result{}, false
}

// Summary renders a table of the build for the console.
func (r *Report) Summary() string {
	title := cases.Title(language.English)

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, result := range r.Results {
		status := "ok"
		if result.Failed() {
			status = "FAILED"
		}
		fmt.Fprintf(w, "%s\t%s\t%d files\t%d faults\t%s\n",
			title.String(result.Task), status, len(result.Outputs), len(result.Faults),
			result.Duration.Round(time.Millisecond))
	}
	_ = w.Flush()
	fmt.Fprintf(&b, "%d tasks in %s", len(r.Results), r.Duration.Round(time.Millisecond))
	return b.String()
}
