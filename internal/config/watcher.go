package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches the config file and reports changes after a debounce,
// so editors that write in multiple syscalls trigger one reload.
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	logger     zerolog.Logger
	onChange   func()
	debounce   time.Duration
	timer      *time.Timer
	stopCh     chan struct{}
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(configPath string, logger zerolog.Logger, onChange func()) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    watcher,
		configPath: configPath,
		logger:     logger,
		onChange:   onChange,
		debounce:   500 * time.Millisecond,
		stopCh:     make(chan struct{}),
	}

	// Watch the directory; many editors replace the file on save, which
	// drops a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	go w.run()

	return w, nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Config change detected")

				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.logger.Info().Msg("Reloading configuration after change")
		w.onChange()
	})
}
