package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher calls OnChange once per burst of catalog file changes.
type Watcher struct {
	dirs     []string
	debounce time.Duration
	onChange func(context.Context)
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	pendingMu sync.Mutex
	pending   bool
}

func NewWatcher(dirs []string, debounce time.Duration, onChange func(context.Context), logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dirs:     dirs,
		debounce: debounce,
		onChange: onChange,
		watcher:  fsw,
		logger:   nopIfNil(logger).Named("catalog.watch"),
	}, nil
}

// Start adds the watches and processes events until ctx is done or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	go w.processEvents(ctx)
	w.logger.Info("catalog watcher started", zap.Strings("dirs", w.dirs), zap.Duration("debounce", w.debounce))
	return nil
}

func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	w.pendingMu.Lock()
	w.pending = true
	w.pendingMu.Unlock()
	w.logger.Debug("catalog change detected", zap.String("path", event.Name), zap.String("op", event.Op.String()))
}

func (w *Watcher) flush(ctx context.Context) {
	w.pendingMu.Lock()
	changed := w.pending
	w.pending = false
	w.pendingMu.Unlock()
	if changed {
		w.onChange(ctx)
	}
}
