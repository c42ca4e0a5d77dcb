package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"agentmem/internal/logging"
)

// Watcher reloads Config from disk whenever the backing YAML file changes.
type Watcher struct {
	mu       sync.RWMutex
	path     string
	current  *Config
	watcher  *fsnotify.Watcher
	onChange func(*Config)
}

// NewWatcher loads path once and starts watching it for changes. onChange,
// if non-nil, is invoked (from a background goroutine) after each
// successful reload.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		// Hot-reload is a convenience; degrade to a static watcher rather
		// than fail config loading entirely.
		logging.Get(logging.CategoryBoot).Warn("config: fsnotify unavailable, hot-reload disabled: %v", err)
		return &Watcher{path: path, current: cfg}, nil
	}
	if err := fw.Add(path); err != nil {
		logging.Get(logging.CategoryBoot).Warn("config: watch %s failed, hot-reload disabled: %v", path, err)
		_ = fw.Close()
		return &Watcher{path: path, current: cfg}, nil
	}

	w := &Watcher{path: path, current: cfg, watcher: fw, onChange: onChange}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				logging.Get(logging.CategoryBoot).Warn("config: reload %s failed: %v", w.path, err)
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			if w.onChange != nil {
				w.onChange(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryBoot).Warn("config: watcher error: %v", err)
		}
	}
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the underlying filesystem watch.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
