// Package hotreload watches the rule directory and schema document path
// for changes and triggers an off-to-the-side rebuild, so an in-flight
// event never observes a half-updated registry: the rebuild callback
// constructs an entirely new registry/catalog before the caller swaps
// the pointer atomically.
package hotreload

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// RebuildFunc recompiles whatever the caller keeps behind an atomic
// pointer (parser/translator registry, schema catalog) and reports
// success so Watcher can count it in Stats.
type RebuildFunc func() error

type Config struct {
	DebounceInterval time.Duration
}

type Stats struct {
	ReloadsSucceeded int64
	ReloadsFailed    int64
	LastReload       time.Time
}

type Watcher struct {
	cfg     Config
	logger  *logrus.Logger
	watcher *fsnotify.Watcher
	rebuild RebuildFunc

	done chan struct{}
	stop chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// New watches each of paths (files or directories) and calls rebuild,
// debounced, whenever any of them changes.
func New(cfg Config, paths []string, rebuild RebuildFunc, logger *logrus.Logger) (*Watcher, error) {
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = 2 * time.Second
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("hotreload: create watcher: %w", err)
	}
	for _, p := range paths {
		if err := fsw.Add(p); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("hotreload: watch %s: %w", p, err)
		}
	}

	return &Watcher{
		cfg:     cfg,
		logger:  logger,
		watcher: fsw,
		rebuild: rebuild,
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}, nil
}

func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) Stop() error {
	close(w.stop)
	<-w.done
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	defer close(w.done)

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(w.cfg.DebounceInterval)
			pending = true

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.WithError(err).Error("hotreload: watcher error")
			}

		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	if err := w.rebuild(); err != nil {
		w.statsMu.Lock()
		w.stats.ReloadsFailed++
		w.statsMu.Unlock()
		if w.logger != nil {
			w.logger.WithError(err).Error("hotreload: rebuild failed, keeping previous registry")
		}
		return
	}
	w.statsMu.Lock()
	w.stats.ReloadsSucceeded++
	w.stats.LastReload = time.Now()
	w.statsMu.Unlock()
	if w.logger != nil {
		w.logger.Info("hotreload: registry swapped")
	}
}

func (w *Watcher) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}
