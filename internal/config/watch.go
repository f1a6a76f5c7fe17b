package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	log      *zap.Logger
	onChange func(*Config)
	debounce time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Watch starts watching path. onChange receives each config that loads and
// passes ValidateTunables; broken edits are logged and ignored. The parent
// directory is watched so editors that replace the file are seen too.
func Watch(path string, log *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		path:     filepath.Clean(path),
		log:      log,
		onChange: onChange,
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := cfg.ValidateTunables(); err != nil {
		w.log.Warn("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.log.Info("config reloaded", zap.String("path", w.path))
	w.onChange(cfg)
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
