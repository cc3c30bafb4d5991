// Package watcher turns filesystem notifications for a directory tree into
// debounced file events.
//
// Only creations and writes of regular files are reported. Removals and
// renames away are dropped; a rename into the tree arrives as a creation.
// New subdirectories are added to the watch when Recursive is set, and
// regular files already inside them are reported as created.
//
//	w, err := watcher.New(dir, watcher.Options{Recursive: true})
//	if err != nil {
//	    return err
//	}
//	go w.Start(ctx)
//	for ev := range w.Events() {
//	    fmt.Println(ev.Op, ev.Path)
//	}
//
// The Events channel is closed when Start returns.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of change observed.
type Op int

const (
	OpCreate Op = iota + 1
	OpModify
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	default:
		return "unknown"
	}
}

// Event is a settled change to one file.
type Event struct {
	Path string
	Op   Op
}

// DefaultDebounce is the quiet period used when Options.Debounce is negative.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Recursive watches every subdirectory, including ones created later.
	Recursive bool
	// Debounce coalesces bursts for the same path. Zero reports every notification.
	Debounce time.Duration
	// Ignore filters paths, files and directories alike, before they are watched or reported.
	Ignore func(path string) bool
	Logger *slog.Logger
}

// Watcher reports file events below a root directory.
type Watcher struct {
	root string
	opts Options
	log  *slog.Logger
	fsw  *fsnotify.Watcher

	events chan Event
	fired  chan string
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]Op
	timers  map[string]*time.Timer

	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a watcher on root. Start begins delivering events.
func New(root string, opts Options) (*Watcher, error) {
	if opts.Debounce < 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Ignore == nil {
		opts.Ignore = func(string) bool { return false }
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		opts:    opts,
		log:     log,
		fsw:     fsw,
		events:  make(chan Event, 64),
		fired:   make(chan string, 64),
		done:    make(chan struct{}),
		pending: make(map[string]Op),
		timers:  make(map[string]*time.Timer),
	}

	if err := w.fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	if opts.Recursive {
		if _, err := w.addTree(root, false); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Events returns the channel events are delivered on.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start runs the event loop until ctx is cancelled or Close is called. It
// may be called once; the Events channel is closed on return.
func (w *Watcher) Start(ctx context.Context) error {
	started := false
	w.startOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("watcher already started")
	}
	defer close(w.events)
	defer w.stopTimers()

	w.log.Info("watcher started", "dir", w.root, "recursive", w.opts.Recursive, "debounce", w.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			w.Close()
			w.log.Info("watcher stopped")
			return nil

		case <-w.done:
			w.log.Info("watcher stopped")
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)

		case path := <-w.fired:
			w.mu.Lock()
			op, ok := w.pending[path]
			delete(w.pending, path)
			delete(w.timers, path)
			w.mu.Unlock()
			if ok {
				w.emit(ctx, Event{Path: path, Op: op})
			}
		}
	}
}

// Close stops the watcher and releases the notifier. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if w.opts.Ignore(ev.Name) {
		return
	}

	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpModify
	default:
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		// Gone again before we looked.
		return
	}
	if info.IsDir() {
		if op == OpCreate && w.opts.Recursive {
			files, err := w.addTree(ev.Name, true)
			if err != nil {
				w.log.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
			}
			for _, f := range files {
				w.schedule(ctx, f, OpCreate)
			}
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	w.schedule(ctx, ev.Name, op)
}

// addTree watches every directory below dir. With collect set it returns the
// regular files found on the way; they were created before the watch existed.
func (w *Watcher) addTree(dir string, collect bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && w.opts.Ignore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path == w.root {
				return nil
			}
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			w.log.Debug("watching directory", "dir", path)
			return nil
		}
		if collect && d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func (w *Watcher) schedule(ctx context.Context, path string, op Op) {
	if w.opts.Debounce == 0 {
		w.emit(ctx, Event{Path: path, Op: op})
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if prev, ok := w.pending[path]; !ok || prev != OpCreate {
		w.pending[path] = op
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() {
		select {
		case w.fired <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) emit(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	case <-w.done:
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}
