package template

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher rebuilds a calibration Bank whenever files in the watched
// directory change, and hands the fresh bank to a callback. Banks stay
// immutable; a change produces a new one.
type Watcher struct {
	dir      string
	onBank   func(*Bank)
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher creates a watcher over a calibration directory.
func NewWatcher(dir string, onBank func(*Bank), logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		onBank:   onBank,
		logger:   logger.With().Str("component", "calibration").Logger(),
		watcher:  fw,
		debounce: 200 * time.Millisecond,
	}, nil
}

// Run blocks until ctx is done, reloading the bank on relevant file
// events. Editors fire several events per save, so reloads are
// debounced.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isCalibrationFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("calibration watch error")

		case <-reload:
			bank, err := LoadCalibrationDir(w.dir)
			if err != nil {
				w.logger.Error().Err(err).Str("dir", w.dir).Msg("calibration reload failed, keeping previous bank")
				continue
			}
			w.logger.Info().Int("templates", bank.Size()).Msg("calibration bank reloaded")
			w.onBank(bank)
		}
	}
}

func isCalibrationFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
