package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/blackhole-sh/blackhole/internal/logger"
)

// Watcher watches a host.yaml file for edits and reloads it, so a running
// host can pick up dev_mode/labels changes without a restart (spec §2).
// Like the log streamer it's modeled on, it watches the containing
// directory rather than the file itself to survive editors that replace
// the file instead of writing it in place.
type Watcher struct {
	dir  string
	path string
	fsw  *fsnotify.Watcher

	// OnChange fires with the freshly reloaded config after every write or
	// create event that targets host.yaml; events are not debounced, so one
	// save can fire it more than once. Called from the watcher's own
	// goroutine.
	OnChange func(cfg *HostConfig)
}

// NewWatcher creates a Watcher for <dir>/host.yaml.
func NewWatcher(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		dir:  dir,
		path: filepath.Join(dir, "host.yaml"),
		fsw:  fsw,
	}, nil
}

// Run blocks, dispatching reloads to OnChange until Close is called. Run is
// meant to be started in its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadHostConfig(w.dir)
			if err != nil {
				logger.Warn("config: reload of host.yaml failed", "err", err)
				continue
			}
			if w.OnChange != nil {
				w.OnChange(cfg)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("config: watcher error", "err", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
