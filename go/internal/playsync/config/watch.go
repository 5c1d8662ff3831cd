package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads a config file whenever it changes on disk
type Watcher struct {
	path      string
	onChange  func(*Config)
	overrides []func(*Config)
	watcher  *fsnotify.Watcher
	closed   chan struct{}
	done     chan struct{}
}

// Watch starts watching path. overrides run on every reloaded config before
// validation, so settings that came from the command line survive a reload.
// onChange receives every successfully parsed and validated version of the
// file; broken edits are logged and skipped.
func Watch(path string, onChange func(*Config), overrides ...func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	path = filepath.Clean(path)
	// the directory is watched since editors often replace files on save
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		path:      path,
		onChange:  onChange,
		overrides: overrides,
		watcher:   watcher,
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.watchLoop()

	log.Info().Str("path", path).Msg("watching config file")
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil {
		for _, override := range w.overrides {
			override(cfg)
		}
		err = cfg.Validate()
	}
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous values")
		return
	}

	log.Debug().Str("path", w.path).Msg("config reloaded")
	w.onChange(cfg)
}

// Close stops the watcher
func (w *Watcher) Close() error {
	close(w.closed)
	err := w.watcher.Close()
	<-w.done
	return err
}
