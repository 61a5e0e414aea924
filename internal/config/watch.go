package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads the configuration file on write and hands the fresh
// Config to onReload. Only RejectNewConnections and HealthCheckToken are
// meant to be consulted live by the worker pool (spec.md §6); the rest of
// a reloaded Config is informational until the process restarts.
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	onReload func(*Config)
	log      *log.Entry
}

// NewWatcher starts watching path's parent directory (fsnotify does not
// reliably observe atomic renames of the file itself, only the directory
// entry) and returns a Watcher whose Run method must be pumped by the
// caller's own goroutine.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, path: path, onReload: onReload, log: log.WithField("component", "config-watcher")}, nil
}

// Run pumps fsnotify events until stop is closed, reloading the
// configuration and invoking onReload on every write or create event.
// Decode errors are logged and otherwise ignored: a config file mid-write
// should not tear down a running process.
func (w *Watcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.WithError(err).Warn("failed to reload configuration, keeping previous values")
				continue
			}
			w.log.Info("configuration reloaded")
			w.onReload(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("configuration watcher error")
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
