// Package internal contains the implementation packages of stagehand.
//
// # Package Organization
//
//   - config: Viper-backed configuration with defaults and validation
//   - logging: structured logger over log/slog
//   - errors: typed asset errors, the fault collector and location parsing
//   - glob: include/exclude doublestar pattern sets over an afero filesystem
//   - transform: the content steps (templates, Sass/CSS, esbuild, images, sprite)
//   - task: tasks, the task registry and the default task table
//   - build: the two-phase plan (clean, then all tasks in parallel) and metrics
//   - watcher: debounced fsnotify watching of the source tree
//   - orchestrator: maps change batches to task reruns and coalesces them
//   - websocket: the live reload hub
//   - server: development HTTP server over the output tree
//   - version: build information
//
// # Data Flow
//
// A full build cleans the output tree and runs every task of the registry
// concurrently. Each task reads its sources, passes them through its steps in
// order and writes the results below its destination. In watch mode the
// watcher hands debounced batches of changed paths to the orchestrator, which
// reruns each task whose watch rule matches and tells the server about every
// successful run; the server then pushes a reload or stylesheet swap to the
// connected browsers.
//
// Faults in one file never stop a task, and a failing task never stops the
// others or the watch loop.
package internal
