// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/pstnbridge/internal/log"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher keeps the call defaults current while the service runs. Only the
// defaults section is hot-reloaded; every other setting needs a restart.
type Watcher struct {
	loader   *Loader
	debounce time.Duration
	logger   zerolog.Logger

	mu      sync.RWMutex
	current CallDefaults

	listenMu  sync.RWMutex
	listeners []chan<- CallDefaults

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher starts from the defaults of an already loaded configuration.
func NewWatcher(initial AppConfig, loader *Loader) *Watcher {
	return &Watcher{
		loader:   loader,
		debounce: defaultDebounce,
		logger:   xglog.WithComponent("config"),
		current:  initial.Defaults,
	}
}

// CallDefaults returns the current defaults.
func (w *Watcher) CallDefaults() CallDefaults {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reload re-reads the file and the environment. An invalid configuration
// keeps the previous defaults.
func (w *Watcher) Reload() error {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("failed to reload configuration")
		return fmt.Errorf("reload config: %w", err)
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg.Defaults
	w.mu.Unlock()

	if old == cfg.Defaults {
		w.logger.Debug().Str("event", "config.reload_unchanged").Msg("call defaults unchanged")
		return nil
	}
	w.logger.Info().
		Str("event", "config.reload_success").
		Str("pstn1", cfg.Defaults.PSTN1).
		Str("pstn2", cfg.Defaults.PSTN2).
		Str("param1", cfg.Defaults.Param1).
		Str("param2", cfg.Defaults.Param2).
		Msg("call defaults reloaded")
	w.notify(cfg.Defaults)
	return nil
}

// Subscribe registers ch for reload notifications. Sends never block; a full
// channel misses the update.
func (w *Watcher) Subscribe(ch chan<- CallDefaults) {
	w.listenMu.Lock()
	defer w.listenMu.Unlock()
	w.listeners = append(w.listeners, ch)
}

func (w *Watcher) notify(d CallDefaults) {
	w.listenMu.RLock()
	defer w.listenMu.RUnlock()
	for _, ch := range w.listeners {
		select {
		case ch <- d:
		default:
			w.logger.Warn().Str("event", "config.listener_skip").Msg("skipped notifying listener (channel full)")
		}
	}
}

// Start watches the configuration file until ctx ends or Stop is called.
// Without a file it does nothing.
func (w *Watcher) Start(ctx context.Context) error {
	path := w.loader.Path()
	if path == "" {
		w.logger.Info().Str("event", "config.watcher_disabled").Msg("no config file, defaults come from the environment only")
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// editors replace files by rename, so watch the directory
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})

	w.logger.Info().Str("event", "config.watcher_started").Str("path", path).Msg("watching config file for changes")
	go w.loop(ctx, filepath.Clean(path))
	return nil
}

func (w *Watcher) loop(ctx context.Context, path string) {
	defer close(w.done)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { _ = w.Reload() })
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}

// Stop ends the watch loop and waits for it.
func (w *Watcher) Stop() {
	if w.fsw == nil {
		return
	}
	_ = w.fsw.Close()
	<-w.done
}
