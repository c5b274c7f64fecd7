// Package watch reports day log files appearing in or leaving the output
// directory, including files written or deleted by other processes.
package watch

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"thermolog/internal/daylog"
	"thermolog/internal/events"
)

// DefaultDebounce collapses the create/write/rename burst of one atomic write.
const DefaultDebounce = 100 * time.Millisecond

// Watcher emits an events.EventFileChanged event on bus for every settled
// change to a log_YYYYMMDD.bin file in dir.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	bus       *events.Bus
	logger    *slog.Logger
	debounce  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher on dir. A zero debounce uses DefaultDebounce.
func New(dir string, bus *events.Bus, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fsWatcher: fsWatcher,
		dir:       dir,
		bus:       bus,
		logger:    logger.With("component", "watch"),
		debounce:  debounce,
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}, nil
}

// Start begins processing file system events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processEvents()
	}()
	w.logger.Info("watching output", "dir", w.dir)
}

// Stop ends processing and drops changes still being debounced.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsWatcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	for name, t := range w.pending {
		t.Stop()
		delete(w.pending, name)
	}
	w.mu.Unlock()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if _, err := daylog.ParseFileName(name); err != nil {
		return // temp files and anything else
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[name]; ok {
		t.Stop()
	}
	w.pending[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, name)
		w.mu.Unlock()
		w.settle(name)
	})
}

// settle reports the state of name once its events have quietened.
func (w *Watcher) settle(name string) {
	select {
	case <-w.done:
		return
	default:
	}

	date, _ := daylog.ParseFileName(name)
	_, err := os.Stat(filepath.Join(w.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("stat log file", "file", name, "err", err)
		return
	}
	c := events.FileChange{Date: date.Format(daylog.DateLayout), File: name, Exists: err == nil}
	w.logger.Debug("log file changed", "file", name, "exists", c.Exists)
	w.bus.Emit(events.FileChanged(c))
}
