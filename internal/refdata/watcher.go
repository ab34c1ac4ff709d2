package refdata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stellarlinkco/ndsborki/internal/config"
	"go.uber.org/zap"
)

// Watcher invalidates a Registry when JSON files in its directory change.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending bool
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewWatcher(reg *Registry, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{
		registry: reg,
		watcher:  fw,
		debounce: debounce,
		logger:   reg.logger.Named("watcher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching; it does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.registry.dir, 0755); err != nil {
		w.logger.Warn("create data dir failed", zap.Error(err))
	}
	if err := w.watcher.Add(w.registry.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.registry.dir, err)
	}
	w.logger.Info("watching reference data", zap.String("dir", w.registry.dir))

	go w.run(ctx)
	return nil
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("close fs watcher failed", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

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
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fs watcher error", zap.Error(err))
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isReferenceFile(event.Name) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	w.logger.Debug("reference file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
	w.mu.Lock()
	w.pending = true
	w.mu.Unlock()
}

func isReferenceFile(path string) bool {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".json") {
		return false
	}
	return name == config.DefaultTypesFileName || strings.HasPrefix(name, "modules-")
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = false
	w.mu.Unlock()
	if pending {
		w.registry.Invalidate()
	}
}
