package dashboard

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc rebuilds the dataset after input files change.
type ReloadFunc func(ctx context.Context) error

// Watcher reloads the dataset when CSV files in a directory change. Bursts
// of events within Debounce collapse into one reload.
type Watcher struct {
	dir      string
	reload   ReloadFunc
	Debounce time.Duration
	logger   *zap.Logger
	metrics  *Metrics
}

func NewWatcher(dir string, reload ReloadFunc, metrics *Metrics, logger *zap.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		reload:   reload,
		Debounce: 500 * time.Millisecond,
		logger:   logger.With(zap.String("component", "watcher")),
		metrics:  metrics,
	}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching input directory", zap.String("dir", w.dir))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isDataEvent(event) {
				continue
			}
			w.logger.Debug("input changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			timer.Reset(w.Debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))

		case <-timer.C:
			if err := w.reload(ctx); err != nil {
				w.metrics.reload(false)
				w.logger.Error("dataset reload failed, keeping previous data", zap.Error(err))
				continue
			}
			w.metrics.reload(true)
			w.logger.Info("dataset reloaded")
		}
	}
}

func isDataEvent(e fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(e.Name), ".csv") {
		return false
	}
	return e.Has(fsnotify.Create) || e.Has(fsnotify.Write) || e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename)
}
