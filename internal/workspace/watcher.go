// Package workspace turns a directory of query documents and notebooks
// into document lifecycle events.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leapstack-labs/schemasync/internal/document"
)

// EventKind is the kind of a document lifecycle event.
type EventKind int

const (
	// EventOpened is raised when a document is first seen.
	EventOpened EventKind = iota
	// EventChanged is raised when an open document was re-read in place.
	EventChanged
	// EventClosed is raised when a document's file went away.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventChanged:
		return "changed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a document lifecycle event.
type Event struct {
	Kind EventKind
	Doc  *document.Document
}

// Handler receives events. Calls are serialised.
type Handler func(ctx context.Context, ev Event)

// DefaultDebounce coalesces bursts of writes to one file.
const DefaultDebounce = 100 * time.Millisecond

// Watcher keeps a registry in sync with the files under a root directory.
type Watcher struct {
	root     string
	registry *document.Registry
	handler  Handler
	logger   *slog.Logger
	debounce time.Duration

	applyMu sync.Mutex

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// New creates a Watcher. If logger is nil, a discard logger is used.
func New(root string, registry *document.Registry, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", abs)
	}
	return &Watcher{
		root:     abs,
		registry: registry,
		handler:  handler,
		logger:   logger,
		debounce: DefaultDebounce,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// SetDebounce changes the write debounce interval.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Root returns the absolute workspace directory.
func (w *Watcher) Root() string {
	return w.root
}

// Scan opens every supported document under the root.
func (w *Watcher) Scan(ctx context.Context) error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if document.IsSupportedPath(path) {
			w.sync(ctx, path)
		}
		return ctx.Err()
	})
}

// Run watches the root until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := w.watchDirRecursive(watcher, w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	w.logger.Info("watching workspace", slog.String("root", w.root))

	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleFSEvent(ctx, watcher, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleFSEvent(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event) {
	path := event.Name

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if skipDir(info.Name()) {
				return
			}
			if err := w.watchDirRecursive(watcher, path); err != nil {
				w.logger.Warn("failed to watch directory", slog.String("path", path), slog.String("error", err.Error()))
			}
			// Files created before the watch was added.
			_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
				if err == nil && !d.IsDir() && document.IsSupportedPath(p) {
					w.schedule(ctx, p)
				}
				return nil
			})
			return
		}
	}

	if !document.IsSupportedPath(path) {
		return
	}

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.schedule(ctx, path)
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		w.schedule(ctx, path)
	}
}

// schedule debounces work for path; the file is inspected when the timer
// fires, so the last state wins.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.timersMu.Lock()
		delete(w.timers, path)
		w.timersMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.sync(ctx, path)
	})
}

func (w *Watcher) stopTimers() {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// sync reconciles the registry with the file at path and emits the
// matching event.
func (w *Watcher) sync(ctx context.Context, path string) {
	w.applyMu.Lock()
	defer w.applyMu.Unlock()

	uri := document.PathToURI(path)
	existing := w.registry.Get(uri)

	data, err := os.ReadFile(path) //nolint:gosec // path is inside the watched workspace
	if err != nil {
		if existing != nil && os.IsNotExist(err) {
			w.registry.Close(existing)
			w.logger.Debug("document closed", slog.String("uri", uri))
			w.emit(ctx, Event{Kind: EventClosed, Doc: existing})
		}
		return
	}

	if existing != nil {
		if err := document.Reload(existing, data); err != nil {
			w.logger.Warn("failed to reload document", slog.String("uri", uri), slog.String("error", err.Error()))
			return
		}
		// Re-index rebuilt notebook cells.
		w.registry.Open(existing)
		w.emit(ctx, Event{Kind: EventChanged, Doc: existing})
		return
	}

	doc, err := document.Parse(uri, data)
	if err != nil {
		w.logger.Warn("failed to load document", slog.String("uri", uri), slog.String("error", err.Error()))
		return
	}
	w.registry.Open(doc)
	w.logger.Debug("document opened", slog.String("uri", uri), slog.String("kind", doc.Kind().String()))
	w.emit(ctx, Event{Kind: EventOpened, Doc: doc})
}

func (w *Watcher) emit(ctx context.Context, ev Event) {
	if w.handler != nil {
		w.handler(ctx, ev)
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func (w *Watcher) watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}
