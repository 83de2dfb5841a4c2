package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadHandler receives the freshly loaded configuration after the
// watched file changes. Handlers should only apply runtime tunables;
// structural settings (listen addresses, backends) need a restart.
type ReloadHandler func(cfg *Config)

// Watcher hot-reloads the config file. Editors replace files rather
// than writing in place, so the parent directory is watched and events
// are debounced before reloading.
type Watcher struct {
	path    string
	handler ReloadHandler
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

const reloadDebounce = 200 * time.Millisecond

// NewWatcher starts watching path. The handler fires after every
// successful reload; a file that fails to load keeps the previous
// configuration and logs the error.
func NewWatcher(path string, handler ReloadHandler, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	w := &Watcher{
		path:    path,
		handler: handler,
		logger:  logger,
		watcher: fw,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	logger.Info("Config watcher started", zap.String("path", path))
	return w, nil
}

// Stop ends the watch loop.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
		<-w.done
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce bursts of events from a single save.
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				// Drain a fire that raced the Reset so it cannot
				// trigger an extra reload afterwards.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Config reload failed, keeping previous configuration",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("Config reloaded", zap.String("path", w.path))
	w.handler(cfg)
}
