package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	redisnode "github.com/raniellyferreira/redis-node"
)

// Watcher reloads the configuration when its file changes and hands the
// new Config to the registered callbacks. Invalid files are logged and
// skipped.
type Watcher struct {
	loader    *Loader
	watcher   *fsnotify.Watcher
	logger    redisnode.Logger
	callbacks []func(*Config)
	mu        sync.RWMutex
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher for the loader's file
func NewWatcher(loader *Loader, logger redisnode.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file, to catch editors that rename
	dir := filepath.Dir(loader.FilePath())
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	return &Watcher{
		loader:  loader,
		watcher: w,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// OnChange registers a callback for reloaded configurations
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start watches in the background until Stop
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	target := filepath.Clean(w.loader.FilePath())
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Configuration watcher error", redisnode.Field{Key: "error", Value: err})
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error("Ignoring invalid configuration",
			redisnode.Field{Key: "file", Value: w.loader.FilePath()},
			redisnode.Field{Key: "error", Value: err})
		return
	}

	w.logger.Info("Configuration reloaded", redisnode.Field{Key: "file", Value: w.loader.FilePath()})

	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, cb := range w.callbacks {
		cb(cfg)
	}
}

// Stop ends watching and waits for the watch goroutine
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
