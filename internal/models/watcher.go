package models

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/skypro1111/whisper-stream-service/internal/metrics"
)

// Watcher logs custom model files appearing in or leaving the model directory
// and keeps the custom model gauge current. It does not cache the listing.
type Watcher struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	onChange func(custom []string)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for the registry's model directory.
// onChange is optional and receives the fresh custom model list after each change.
func NewWatcher(registry *Registry, logger *slog.Logger, m *metrics.Metrics, onChange func(custom []string)) *Watcher {
	return &Watcher{
		registry: registry,
		logger:   logger,
		metrics:  m,
		onChange: onChange,
	}
}

// Start begins watching until ctx is cancelled or Stop is called
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create model directory watcher: %w", err)
	}

	if err := watcher.Add(w.registry.ModelDir()); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.registry.ModelDir(), err)
	}

	w.watcher = watcher
	ctx, w.cancel = context.WithCancel(ctx)

	w.metrics.SetCustomModels(len(w.registry.CustomModels()))

	w.wg.Add(1)
	go w.watchLoop(ctx)

	w.logger.Info("Model directory watcher started", slog.String("dir", w.registry.ModelDir()))
	return nil
}

// Stop ends the watch loop and releases the watcher
func (w *Watcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			stem, ok := w.registry.stem(filepath.Base(event.Name))
			if !ok {
				continue
			}

			switch {
			case event.Has(fsnotify.Create):
				w.logger.Info("Custom model file added", slog.String("model", stem), slog.String("path", event.Name))
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.logger.Info("Custom model file removed", slog.String("model", stem), slog.String("path", event.Name))
			default:
				continue
			}

			custom := w.registry.CustomModels()
			w.metrics.SetCustomModels(len(custom))
			if w.onChange != nil {
				w.onChange(custom)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Model directory watcher error", slog.String("error", err.Error()))

		case <-ctx.Done():
			return
		}
	}
}
