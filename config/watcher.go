package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// editors that save through a temp file need a moment before the new file is in place
const renameSettle = 50 * time.Millisecond

// Watcher reloads the config file when it changes and notifies listeners.
// A file that fails to parse or validate is logged and ignored.
type Watcher struct {
	path      string
	logger    *zap.Logger
	fs        *fsnotify.Watcher
	mu        sync.Mutex
	cfg       Config
	listeners []func(Config)
}

// NewWatcher loads path and starts watching it until ctx is done.
func NewWatcher(ctx context.Context, path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := getYaml(path)
	if err != nil {
		return nil, err
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create config watcher")
	}
	// the directory is watched so that rename-based saves keep being observed
	if err := fs.Add(filepath.Dir(path)); err != nil {
		_ = fs.Close()
		return nil, errors.Wrapf(err, "watch %s", path)
	}

	w := &Watcher{path: filepath.Clean(path), logger: logger, fs: fs, cfg: cfg}
	go w.watch(ctx)

	logger.Info("config watcher started", zap.String("config", path))
	return w, nil
}

// Get returns the latest valid configuration.
func (w *Watcher) Get() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// OnConfigUpdate registers fns to be called with every reloaded configuration.
func (w *Watcher) OnConfigUpdate(fns ...func(Config)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fns...)
	w.mu.Unlock()
}

func (w *Watcher) watch(ctx context.Context) {
	defer w.fs.Close()
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !event.Has(fsnotify.Write) {
				time.Sleep(renameSettle)
			}
			w.reload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", zap.Error(err))
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := getYaml(w.path)
	if err != nil {
		w.logger.Error("unable to reload configuration", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.cfg = cfg
	listeners := append([]func(Config){}, w.listeners...)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", zap.String("config", w.path))
	for _, fn := range listeners {
		fn(cfg)
	}
}
