// Package watcher delivers recursive filesystem change notifications with
// debouncing. It is the watch collaborator for the dispatcher: given a root
// directory and an ignore predicate it emits one event per change on a
// single-consumer channel, in arrival order.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/devloop-dev/devloop/internal/logging"
)

// EventKind classifies a filesystem change.
type EventKind int

const (
	EventAdded EventKind = iota
	EventChanged
	EventRemoved
)

// String returns the string representation of the EventKind
func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventChanged:
		return "changed"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a single filesystem change at an absolute path.
type Event struct {
	Kind EventKind
	Path string
}

// IgnoreFunc reports whether a path should be excluded from watching.
type IgnoreFunc func(path string) bool

// Watcher watches a directory tree and emits debounced change events.
type Watcher struct {
	fs        *fsnotify.Watcher
	root      string
	ignore    IgnoreFunc
	debouncer *debouncer
	out       chan Event
	logger    logging.Logger
	stopOnce  sync.Once

	// emitMutex serializes emit against Stop: a debounce flush that fired
	// just before Stop must not send on the closed channel.
	emitMutex sync.Mutex
	stopped   bool
}

// debouncer groups rapid changes to the same path into one event.
type debouncer struct {
	delay   time.Duration
	mutex   sync.Mutex
	timer   *time.Timer
	pending map[string]Event
	order   []string
	flushFn func([]Event)
}

// New creates a watcher rooted at root. Paths for which ignore returns true
// are neither watched nor reported.
func New(root string, ignore IgnoreFunc, debounce time.Duration, logger logging.Logger) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	if ignore == nil {
		ignore = func(string) bool { return false }
	}

	w := &Watcher{
		fs:     fs,
		root:   absRoot,
		ignore: ignore,
		out:    make(chan Event, 256),
		logger: logger.WithComponent("watcher"),
	}
	w.debouncer = &debouncer{
		delay:   debounce,
		pending: make(map[string]Event),
		flushFn: w.emit,
	}

	return w, nil
}

// Events returns the channel change events are delivered on. The channel is
// closed when the watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.out
}

// Start registers the root tree and begins delivering events until ctx is
// cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}

	go w.loop(ctx)

	return nil
}

// Stop closes the underlying watcher and the event channel.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.debouncer.stop()
		w.emitMutex.Lock()
		w.stopped = true
		w.emitMutex.Unlock()
		err = w.fs.Close()
		close(w.out)
	})
	return err
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != w.root && w.ignore(path) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, err, "watch error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.root, path)
	}
	if w.ignore(path) {
		return
	}

	var kind EventKind
	switch {
	case event.Op.Has(fsnotify.Create):
		kind = EventAdded
		// fsnotify does not recurse; new directories must be registered so
		// their contents are observed too.
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addRecursive(path); err != nil {
				w.logger.Warn(context.Background(), err, "watching new directory", "path", path)
			}
			return
		}
	case event.Op.Has(fsnotify.Write):
		kind = EventChanged
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		kind = EventRemoved
	default:
		// Chmod and other noise.
		return
	}

	w.debouncer.add(Event{Kind: kind, Path: path})
}

func (w *Watcher) emit(events []Event) {
	w.emitMutex.Lock()
	defer w.emitMutex.Unlock()
	if w.stopped {
		return
	}
	for _, event := range events {
		select {
		case w.out <- event:
		default:
			// Consumer is far behind; dropping is preferable to blocking the
			// fsnotify delivery goroutine.
			w.logger.Warn(context.Background(), nil, "event channel full, dropping event", "path", event.Path)
		}
	}
}

func (d *debouncer) add(event Event) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if _, seen := d.pending[event.Path]; !seen {
		d.order = append(d.order, event.Path)
	}
	// Later kinds win: a create followed by a write is reported as a write.
	d.pending[event.Path] = event

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *debouncer) flush() {
	d.mutex.Lock()
	events := make([]Event, 0, len(d.order))
	for _, path := range d.order {
		events = append(events, d.pending[path])
	}
	d.pending = make(map[string]Event)
	d.order = d.order[:0]
	d.mutex.Unlock()

	if len(events) > 0 {
		d.flushFn(events)
	}
}

func (d *debouncer) stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
