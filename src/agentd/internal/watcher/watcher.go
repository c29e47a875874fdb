package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last file event
// before delivering a batch.
const DefaultDebounce = 250 * time.Millisecond

var _skipDirs = map[string]struct{}{
	"node_modules": {},
	"bazel-out":    {},
	".git":         {},
}

// BatchHandler receives debounced batches of workspace file events.
type BatchHandler func(changes []protocol.FileEvent)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// Watcher monitors a workspace root recursively and coalesces raw file system
// events into batches suitable for workspace/didChangeWatchedFiles.
type Watcher struct {
	root     string
	handler  BatchHandler
	logger   *zap.SugaredLogger
	debounce time.Duration

	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending map[uri.URI]protocol.FileChangeType
	timer   *time.Timer

	stopOnce sync.Once
}

// New creates a Watcher rooted at root. Start must be called before any
// events are delivered.
func New(root string, handler BatchHandler, logger *zap.SugaredLogger, opts ...Option) *Watcher {
	w := &Watcher{
		root:     root,
		handler:  handler,
		logger:   logger,
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
		pending:  make(map[uri.URI]protocol.FileChangeType),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers the workspace tree with the file system watcher and begins
// consuming events.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file system watcher: %w", err)
	}
	if err := addRecursive(fsw, w.root); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %q: %w", w.root, err)
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.consume()
	return nil
}

// Stop closes the watcher and discards any pending batch.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			if err := w.fsw.Close(); err != nil {
				w.logger.Warnf("failed to close workspace watcher: %v", err)
			}
		}
		w.wg.Wait()

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.pending = make(map[uri.URI]protocol.FileChangeType)
		w.mu.Unlock()
	})
}

func (w *Watcher) consume() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.track(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("workspace watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) track(event fsnotify.Event) {
	var changeType protocol.FileChangeType
	switch {
	case event.Has(fsnotify.Create):
		changeType = protocol.FileChangeTypeCreated
		// New directories are not covered by the original registration.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addRecursive(w.fsw, event.Name); err != nil {
				w.logger.Warnf("failed to watch new directory %q: %v", event.Name, err)
			}
			return
		}
	case event.Has(fsnotify.Write):
		changeType = protocol.FileChangeTypeChanged
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		changeType = protocol.FileChangeTypeDeleted
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	key := uri.File(event.Name)
	// A create followed by writes within one window is still a create.
	if existing, ok := w.pending[key]; !ok || !(existing == protocol.FileChangeTypeCreated && changeType == protocol.FileChangeTypeChanged) {
		w.pending[key] = changeType
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[uri.URI]protocol.FileChangeType)
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	select {
	case <-w.done:
		return
	default:
	}

	changes := make([]protocol.FileEvent, 0, len(pending))
	for fileURI, changeType := range pending {
		changes = append(changes, protocol.FileEvent{URI: fileURI, Type: changeType})
	}
	w.handler(changes)
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := _skipDirs[d.Name()]; skip && path != root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
