package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the config file for changes and debounces bursts of
// filesystem events (editors often emit several writes per save) into a
// single reload callback.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onReload func(*Config)
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
	ctx   context.Context
	cancel context.CancelFunc
}

// WatchFile starts watching path for changes, invoking onReload with
// the freshly loaded and validated Config after each debounced change.
// Load errors during a reload are swallowed with the previous config
// left in place; callers that want to observe them should call Load
// directly inside onReload instead of relying solely on the watcher.
func WatchFile(path string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher:  fw,
		path:     path,
		onReload: onReload,
		debounce: 300 * time.Millisecond,
		ctx:      ctx,
		cancel:   cancel,
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scheduleReload()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := Load(w.path)
		if err != nil {
			return
		}
		w.onReload(cfg)
	})
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}
