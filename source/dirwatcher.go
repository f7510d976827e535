package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay is how long a new directory must be quiet before it is loaded
const DefaultSettleDelay = 500 * time.Millisecond

// DirWatcher treats every module directly below a root directory as a component.
// Creating a module directory (or its go.mod) adds the component, deleting or
// renaming it away removes the component.
type DirWatcher struct {
	root        string
	settleDelay time.Duration
	log         log.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	handler  Handler
	loaded   map[string]string // dir -> component id
	pending  map[string]*time.Timer
	stopCh   chan struct{}
	done     chan struct{}
	running  bool
	handleMu sync.Mutex     // serializes handler calls from the event loop and settle timers
	inflight sync.WaitGroup // handler calls Stop waits for
}

var _ ComponentLifecycleSource = (*DirWatcher)(nil)

func NewDirWatcher(root string, settleDelay time.Duration, logger log.Logger) *DirWatcher {
	if settleDelay <= 0 {
		settleDelay = DefaultSettleDelay
	}
	if logger == nil {
		logger = log.New()
	}
	return &DirWatcher{
		root:        root,
		settleDelay: settleDelay,
		log:         logger,
		loaded:      make(map[string]string),
		pending:     make(map[string]*time.Timer),
	}
}

// Start implements ComponentLifecycleSource. Components present at start are
// reported before Start returns.
func (w *DirWatcher) Start(ctx context.Context, handler Handler) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(w.root); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return fmt.Errorf("watching %s: %w", w.root, err)
	}

	w.watcher = watcher
	w.handler = handler
	w.running = true
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	entries, err := os.ReadDir(w.root)
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		_ = watcher.Close()
		return fmt.Errorf("scanning %s: %w", w.root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() {
			w.load(ctx, filepath.Join(w.root, entry.Name()))
		}
	}

	go w.processEvents(ctx)

	w.log.Info("Watching for components", "dir", w.root, "components", len(w.Loaded()))
	return nil
}

// Stop implements ComponentLifecycleSource. Loaded components are not removed.
// Stop returns once no handler call is in progress; none is made afterwards.
func (w *DirWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	for dir, timer := range w.pending {
		timer.Stop()
		delete(w.pending, dir)
	}
	watcher := w.watcher
	done := w.done
	w.mu.Unlock()

	w.inflight.Wait()
	err := watcher.Close()
	<-done
	w.log.Info("Stopped watching for components", "dir", w.root)
	return err
}

// Loaded returns the component ids currently reported as present, keyed by directory
func (w *DirWatcher) Loaded() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	loaded := make(map[string]string, len(w.loaded))
	for dir, id := range w.loaded {
		loaded[dir] = id
	}
	return loaded
}

func (w *DirWatcher) processEvents(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("Component watcher error", "err", err)
		}
	}
}

func (w *DirWatcher) handleFsEvent(ctx context.Context, event fsnotify.Event) {
	dir, isGoMod := w.componentDir(event.Name)
	if dir == "" {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create) || (isGoMod && event.Op.Has(fsnotify.Write)):
		w.settle(ctx, dir)
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		// A rename is a removal here, the new name arrives as a create.
		w.unload(dir)
	}
}

// componentDir maps an event path to the component directory it concerns
func (w *DirWatcher) componentDir(name string) (dir string, isGoMod bool) {
	parent := filepath.Dir(name)
	if parent == filepath.Clean(w.root) {
		return name, false
	}
	if filepath.Base(name) == "go.mod" && filepath.Dir(parent) == filepath.Clean(w.root) {
		return parent, true
	}
	return "", false
}

// settle loads dir once it has been quiet for the settle delay
func (w *DirWatcher) settle(ctx context.Context, dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if timer, ok := w.pending[dir]; ok {
		timer.Stop()
	}
	w.pending[dir] = time.AfterFunc(w.settleDelay, func() {
		w.mu.Lock()
		_, ok := w.pending[dir]
		delete(w.pending, dir)
		running := w.running
		w.mu.Unlock()
		if ok && running {
			w.load(ctx, dir)
		}
	})
}

// begin admits a handler call unless the watcher is stopping
func (w *DirWatcher) begin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return false
	}
	w.inflight.Add(1)
	return true
}

func (w *DirWatcher) load(ctx context.Context, dir string) {
	if !w.begin() {
		return
	}
	defer w.inflight.Done()
	w.handleMu.Lock()
	defer w.handleMu.Unlock()

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}

	w.mu.Lock()
	// Watch the directory itself so a go.mod written later is noticed.
	if err := w.watcher.Add(dir); err != nil {
		w.log.Warn("Could not watch component directory", "dir", dir, "err", err)
	}
	_, known := w.loaded[dir]
	w.mu.Unlock()
	if known {
		return
	}

	component, err := LoadComponent(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.log.Debug("Directory is not a module yet", "dir", dir)
		} else {
			w.log.Error("Skipping component", "dir", dir, "err", err)
		}
		return
	}

	w.mu.Lock()
	w.loaded[dir] = component.ID
	w.mu.Unlock()

	w.log.Info("Component added", "component", component.ID, "dir", dir)
	w.handler.OnAdd(ctx, component)
}

func (w *DirWatcher) unload(dir string) {
	if !w.begin() {
		return
	}
	defer w.inflight.Done()
	w.handleMu.Lock()
	defer w.handleMu.Unlock()

	w.mu.Lock()
	if timer, ok := w.pending[dir]; ok {
		timer.Stop()
		delete(w.pending, dir)
	}
	id, known := w.loaded[dir]
	delete(w.loaded, dir)
	w.mu.Unlock()
	if !known {
		return
	}

	w.log.Info("Component removed", "component", id, "dir", dir)
	w.handler.OnRemove(id)
}
