package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/stagehand/internal/build"
)

// Status is the state reported by the status endpoints.
type Status struct {
	Tasks   []TaskStatus          `json:"tasks"`
	Faults  []FaultStatus         `json:"faults"`
	Metrics build.MetricsSnapshot `json:"metrics"`
	Clients int                   `json:"clients"`
}

// TaskStatus is the most recent run of one task.
type TaskStatus struct {
	Name     string        `json:"name"`
	Failed   bool          `json:"failed"`
	Outputs  []string      `json:"outputs"`
	Faults   int           `json:"faults"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// FaultStatus is one recorded fault.
type FaultStatus struct {
	Task     string    `json:"task"`
	Severity string    `json:"severity"`
	Code     string    `json:"code"`
	File     string    `json:"file,omitempty"`
	Line     int       `json:"line,omitempty"`
	Column   int       `json:"column,omitempty"`
	Message  string    `json:"message"`
	Recorded time.Time `json:"recorded"`
}

func (s *Server) snapshot() Status {
	status := Status{
		Tasks:   []TaskStatus{},
		Faults:  []FaultStatus{},
		Clients: s.hub.ClientCount(),
	}
	if s.status == nil {
		return status
	}

	for _, r := range s.status.Latest() {
		ts := TaskStatus{
			Name:     r.Task,
			Failed:   r.Failed(),
			Outputs:  r.Outputs,
			Faults:   len(r.Faults),
			Duration: r.Duration,
		}
		if ts.Outputs == nil {
			ts.Outputs = []string{}
		}
		if r.Err != nil {
			ts.Error = r.Err.Error()
		}
		status.Tasks = append(status.Tasks, ts)
	}

	for _, e := range s.status.Collector().All() {
		status.Faults = append(status.Faults, FaultStatus{
			Task:     e.Err.Task,
			Severity: e.Err.Severity.String(),
			Code:     e.Err.Code,
			File:     e.Err.File,
			Line:     e.Err.Line,
			Column:   e.Err.Column,
			Message:  e.Err.Message,
			Recorded: e.Timestamp,
		})
	}

	status.Metrics = s.status.Metrics().Snapshot()
	return status
}

func (s *Server) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Warn(r.Context(), err, "cannot encode status")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	templ.Handler(statusPage(s.snapshot())).ServeHTTP(w, r)
}

// statusPage renders the task table and the fault list.
func statusPage(status Status) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		e := &errWriter{w: w}

		e.print(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		e.print(`<title>stagehand status</title>`)
		e.print(`<style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse}` +
			`td,th{padding:.25rem .75rem;border-bottom:1px solid #ddd;text-align:left}` +
			`.failed{color:#b00020}.ok{color:#1b5e20}</style></head><body>`)

		e.print(`<h1>stagehand</h1>`)
		e.printf(`<p>%d task runs, %d failed, %d full builds, %d connected browsers</p>`,
			status.Metrics.TotalRuns, status.Metrics.FailedRuns, status.Metrics.FullBuilds, status.Clients)

		e.print(`<h2>Tasks</h2><table><tr><th>Task</th><th>State</th><th>Outputs</th><th>Faults</th><th>Duration</th></tr>`)
		for _, t := range status.Tasks {
			state, class := "ok", "ok"
			if t.Failed {
				state, class = "failed", "failed"
			}
			e.printf(`<tr><td>%s</td><td class="%s">%s</td><td>%d</td><td>%d</td><td>%s</td></tr>`,
				templ.EscapeString(t.Name), class, state, len(t.Outputs), t.Faults,
				templ.EscapeString(t.Duration.Round(time.Millisecond).String()))
		}
		e.print(`</table>`)

		if len(status.Faults) > 0 {
			e.print(`<h2>Faults</h2><table><tr><th>Task</th><th>Severity</th><th>Location</th><th>Message</th></tr>`)
			for _, f := range status.Faults {
				location := f.File
				if f.Line > 0 {
					location = fmt.Sprintf("%s:%d:%d", f.File, f.Line, f.Column)
				}
				e.printf(`<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
					templ.EscapeString(f.Task), templ.EscapeString(f.Severity),
					templ.EscapeString(location), templ.EscapeString(f.Message))
			}
			e.print(`</table>`)
		}

		e.print(`</body></html>`)
		return e.err
	})
}

// errWriter keeps the first write error so the page can be written without
// checking every call.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) print(s string) {
	if e.err == nil {
		_, e.err = io.WriteString(e.w, s)
	}
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err == nil {
		_, e.err = fmt.Fprintf(e.w, format, args...)
	}
}
