package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/logging"
)

// Watcher reloads the configuration when the config file or its manifest
// changes on disk.
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	configPath string
	callbacks  []func(*Config)
	mu         sync.RWMutex
	debounce   time.Duration
	lastConfig *Config
	done       chan struct{}
}

// NewWatcher creates a new configuration watcher
func NewWatcher(configPath string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    fsWatcher,
		loader:     NewLoader(),
		configPath: configPath,
		debounce:   500 * time.Millisecond,
		done:       make(chan struct{}),
	}

	cfg, err := w.loader.Load(configPath)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w.lastConfig = cfg

	return w, nil
}

// OnChange registers a callback for config changes
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for configuration changes
func (w *Watcher) Start() error {
	dirs := map[string]bool{filepath.Dir(w.configPath): true}
	if m := w.GetConfig().Manifest.Path; m != "" {
		dirs[filepath.Dir(m)] = true
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}

	go w.watch()
	return nil
}

func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(name)
	if base == filepath.Base(w.configPath) {
		return true
	}
	m := w.GetConfig().Manifest.Path
	return m != "" && base == filepath.Base(m)
}

func (w *Watcher) watch() {
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event.Name) {
				continue
			}
			// Editors often replace files via rename.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("config watcher error", zap.Error(err))

		case <-w.done:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

// reload loads the config and notifies callbacks. A config that fails to
// load leaves the previous one active.
func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.configPath)
	if err != nil {
		logging.Error("failed to reload config", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.lastConfig = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	logging.Info("configuration reloaded", zap.String("path", w.configPath))

	for _, cb := range callbacks {
		cb(cfg)
	}
}

// GetConfig returns the current configuration
func (w *Watcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastConfig
}

// Stop stops watching for changes
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

// SetDebounce sets the debounce duration for file changes
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}
