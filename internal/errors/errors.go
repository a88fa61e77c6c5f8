// Package errors provides the structured error types used across the asset
// pipeline and a race-safe collector of the latest faults per task.
//
// Faults are classified by ErrorType (syntax, io, transform, config) and by
// ErrorSeverity. Warnings skip a single asset; errors mark the task as failed
// without stopping sibling files; fatal errors abort the task.
package errors

import (
	"sort"
	"sync"
	"time"
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Entry is a collected fault with the time it was recorded.
type Entry struct {
	Err       *AssetError
	Timestamp time.Time
}

// Collector keeps the faults of the most recent run of every task. A new run
// of a task replaces that task's entries.
type Collector struct {
	byTask map[string][]Entry
	mutex  sync.RWMutex
}

// NewCollector creates a new error collector
func NewCollector() *Collector {
	return &Collector{
		byTask: make(map[string][]Entry),
	}
}

// Replace stores the faults of a finished task run.
func (c *Collector) Replace(task string, faults []*AssetError) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(faults) == 0 {
		delete(c.byTask, task)
		return
	}

	now := time.Now()
	entries := make([]Entry, 0, len(faults))
	for _, f := range faults {
		entries = append(entries, Entry{Err: f, Timestamp: now})
	}
	c.byTask[task] = entries
}

// Task returns a copy of the faults recorded for a task.
func (c *Collector) Task(task string) []Entry {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entries := c.byTask[task]
	result := make([]Entry, len(entries))
	copy(result, entries)
	return result
}

// All returns every recorded fault ordered by task name.
func (c *Collector) All() []Entry {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	tasks := make([]string, 0, len(c.byTask))
	for name := range c.byTask {
		tasks = append(tasks, name)
	}
	sort.Strings(tasks)

	var all []Entry
	for _, name := range tasks {
		all = append(all, c.byTask[name]...)
	}
	return all
}

// HasErrors returns true if any recorded fault fails its task
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, entries := range c.byTask {
		for _, e := range entries {
			if e.Err.Fails() {
				return true
			}
		}
	}
	return false
}

// Clear removes all faults
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.byTask = make(map[string][]Entry)
}
