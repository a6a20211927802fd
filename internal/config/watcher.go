package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/polyroom/polyroom/internal/logging"
)

// debounceDelay coalesces the write bursts editors produce when saving.
const debounceDelay = 100 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk and
// hands the resulting snapshot to the callback. The watch is placed on
// the parent directory because many editors replace the file on save.
type Watcher struct {
	path     string
	onChange func(Snapshot)
	fw       *fsnotify.Watcher
	done     chan struct{}
}

// Watch starts watching the config file at path. onChange runs on the
// watcher goroutine with each successfully loaded snapshot.
func Watch(path string, onChange func(Snapshot)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		path:     abs,
		onChange: onChange,
		fw:       fw,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
			} else {
				timer.Reset(debounceDelay)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			snap, err := Load(w.path)
			if err != nil {
				logging.Warn("Config reload failed",
					zap.String("path", w.path),
					zap.Error(err),
				)
				continue
			}
			logging.Info("Config reloaded", zap.String("path", w.path))
			w.onChange(snap)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logging.Warn("Config watcher error", zap.Error(err))
		}
	}
}
