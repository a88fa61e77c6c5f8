// Package watcher reports changes below a project directory. Events are
// debounced on the trailing edge: a burst of writes is delivered as one
// batch once the files have been quiet for the configured delay.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/stagehand/internal/logging"
)

// FileWatcher watches a directory tree with debouncing
type FileWatcher struct {
	root     string
	watcher  *fsnotify.Watcher
	debounce func(f func())
	logger   logging.Logger

	filters  []FileFilter
	handlers []ChangeHandler
	mutex    sync.RWMutex

	pendingMu sync.Mutex
	pending   map[string]ChangeEvent
	batches   chan []ChangeEvent
	stopOnce  sync.Once
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type EventType
	// Path is slash separated and relative to the watcher root.
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter determines if a root-relative, slash separated path is
// reported. All filters must accept it.
type FileFilter func(path string) bool

// ChangeHandler handles a debounced batch of events, sorted by path.
type ChangeHandler func(events []ChangeEvent) error

// NewFileWatcher creates a watcher reporting paths relative to root.
func NewFileWatcher(root string, debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		root:     absRoot,
		watcher:  watcher,
		debounce: debounce.New(debounceDelay),
		logger:   logger.WithComponent("watcher"),
		pending:  make(map[string]ChangeEvent),
		batches:  make(chan []ChangeEvent, 1),
	}, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddRecursive watches dir, relative to the root, and all its
// subdirectories. Directories rejected by the filters are skipped.
func (fw *FileWatcher) AddRecursive(dir string) error {
	abs, err := fw.resolve(dir)
	if err != nil {
		return fmt.Errorf("invalid watch directory: %w", err)
	}

	return filepath.Walk(abs, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if rel, ok := fw.relative(p); ok && rel != "." && !fw.accept(rel) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(p)
	})
}

// resolve maps a root-relative directory to an absolute path inside root.
func (fw *FileWatcher) resolve(dir string) (string, error) {
	abs := filepath.Join(fw.root, filepath.FromSlash(dir))
	if _, ok := fw.relative(abs); !ok {
		return "", fmt.Errorf("path %s is outside the watch root", dir)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return abs, nil
}

func (fw *FileWatcher) relative(abs string) (string, bool) {
	rel, err := filepath.Rel(fw.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (fw *FileWatcher) accept(rel string) bool {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	for _, filter := range fw.filters {
		if !filter(rel) {
			return false
		}
	}
	return true
}

// Start runs the watcher until ctx is cancelled, then releases it. It blocks.
func (fw *FileWatcher) Start(ctx context.Context) error {
	defer fw.Stop()

	go fw.processEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			fw.logger.Warn(ctx, err, "file watcher error")
		}
	}
}

// Stop closes the underlying watcher. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	rel, ok := fw.relative(event.Name)
	if !ok || !fw.accept(rel) {
		return
	}

	var (
		modTime time.Time
		size    int64
	)
	info, err := os.Stat(event.Name)
	if err == nil {
		modTime = info.ModTime()
		size = info.Size()
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventTypeCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventTypeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventTypeDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventTypeRenamed
	default:
		eventType = EventTypeModified
	}

	if err == nil && info.IsDir() {
		if eventType == EventTypeCreated {
			fw.watchNewDir(rel)
		}
		return
	}

	fw.enqueue(ChangeEvent{Type: eventType, Path: rel, ModTime: modTime, Size: size})
}

// watchNewDir adds a directory created while running. fsnotify is not
// recursive, and files written before the watch was added are reported as
// created.
func (fw *FileWatcher) watchNewDir(rel string) {
	if err := fw.AddRecursive(rel); err != nil {
		fw.logger.Warn(context.Background(), err, "cannot watch new directory", "path", rel)
		return
	}

	_ = filepath.Walk(filepath.Join(fw.root, filepath.FromSlash(rel)), func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if fileRel, ok := fw.relative(p); ok && fw.accept(fileRel) {
			fw.enqueue(ChangeEvent{Type: EventTypeCreated, Path: fileRel, ModTime: info.ModTime(), Size: info.Size()})
		}
		return nil
	})
}

func (fw *FileWatcher) enqueue(event ChangeEvent) {
	fw.pendingMu.Lock()
	fw.pending[event.Path] = event
	fw.pendingMu.Unlock()

	fw.debounce(fw.flush)
}

// flush hands the pending events to the handlers as one batch. If the
// previous batch is still queued the events stay pending and are merged into
// the next flush.
func (fw *FileWatcher) flush() {
	fw.pendingMu.Lock()
	defer fw.pendingMu.Unlock()

	if len(fw.pending) == 0 {
		return
	}

	events := make([]ChangeEvent, 0, len(fw.pending))
	for _, event := range fw.pending {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	select {
	case fw.batches <- events:
		fw.pending = make(map[string]ChangeEvent)
	default:
		fw.debounce(fw.flush)
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.batches:
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(events); err != nil {
					fw.logger.Error(ctx, err, "file watcher handler error", "events", len(events))
				}
			}
		}
	}
}

// Common file filters

// NoGitFilter rejects version control metadata.
func NoGitFilter(path string) bool {
	return path != ".git" && !strings.HasPrefix(path, ".git/") && !strings.Contains(path, "/.git/")
}

// NoNodeModulesFilter rejects installed packages.
func NoNodeModulesFilter(path string) bool {
	return path != "node_modules" && !strings.HasPrefix(path, "node_modules/") && !strings.Contains(path, "/node_modules/")
}

// NoEditorTempFilter rejects editor swap and backup files.
func NoEditorTempFilter(path string) bool {
	base := filepath.Base(path)
	return !strings.HasSuffix(base, "~") &&
		!strings.HasSuffix(base, ".swp") &&
		!strings.HasSuffix(base, ".swx") &&
		!strings.HasPrefix(base, ".#") &&
		base != "4913"
}

// ExcludeDirFilter rejects dir and everything below it, e.g. the output tree.
func ExcludeDirFilter(dir string) FileFilter {
	dir = strings.TrimSuffix(filepath.ToSlash(filepath.Clean(dir)), "/")
	return func(path string) bool {
		return path != dir && !strings.HasPrefix(path, dir+"/")
	}
}
