package batchmodule

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/lumapix/lumapix/internal/config"
	"github.com/lumapix/lumapix/internal/events"
)

// Watcher monitors configured folders and starts a batch for a folder once
// its filesystem activity settles. Bursts of events from a bulk copy are
// debounced into a single batch.
type Watcher struct {
	cfg          *config.WatcherConfig
	orchestrator *Orchestrator
	bus          *events.Bus
	log          hclog.Logger

	fsWatcher *fsnotify.Watcher
	mu        sync.Mutex
	timers    map[string]*time.Timer
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher for the configured folders. It does not
// start watching until Start is called.
func NewWatcher(cfg *config.WatcherConfig, orchestrator *Orchestrator, bus *events.Bus) *Watcher {
	return &Watcher{
		cfg:          cfg,
		orchestrator: orchestrator,
		bus:          bus,
		log:          hclog.New(&hclog.LoggerOptions{Name: "watcher"}),
		timers:       make(map[string]*time.Timer),
		done:         make(chan struct{}),
	}
}

// Start begins watching the configured folders. Missing folders are
// logged and skipped; watching proceeds with whatever remains.
func (w *Watcher) Start() error {
	if !w.cfg.Enabled || len(w.cfg.Folders) == 0 {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	w.fsWatcher = fsw

	watched := 0
	for _, folder := range w.cfg.Folders {
		if err := fsw.Add(folder); err != nil {
			w.log.Warn("cannot watch folder", "folder", folder, "error", err)
			continue
		}
		watched++
		w.log.Info("watching folder", "folder", folder, "debounce", w.cfg.Debounce)
	}
	if watched == 0 {
		fsw.Close()
		w.fsWatcher = nil
		return fmt.Errorf("no watchable folders configured")
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop halts watching and cancels pending debounce timers.
func (w *Watcher) Stop() {
	if w.fsWatcher == nil {
		return
	}
	close(w.done)
	w.fsWatcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.bump(w.folderFor(event.Name))
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// folderFor maps an event path back to the watched root it belongs to.
func (w *Watcher) folderFor(path string) string {
	for _, folder := range w.cfg.Folders {
		if len(path) >= len(folder) && path[:len(folder)] == folder {
			return folder
		}
	}
	return path
}

// bump resets the debounce timer for a folder. The batch fires only after
// the folder has been quiet for the full debounce window.
func (w *Watcher) bump(folder string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[folder]; ok {
		t.Reset(w.cfg.Debounce)
		return
	}
	w.timers[folder] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, folder)
		w.mu.Unlock()
		w.trigger(folder)
	})
}

func (w *Watcher) trigger(folder string) {
	select {
	case <-w.done:
		return
	default:
	}

	w.log.Info("folder settled, starting batch", "folder", folder)
	w.bus.Publish(events.Event{
		Type:      events.EventWatcherTriggered,
		Source:    "watcher",
		Data:      map[string]interface{}{"folder": folder},
		Timestamp: time.Now(),
	})

	job, err := w.orchestrator.StartBatch(folder, DefaultOptions(&w.orchestrator.cfg.Batch))
	if err != nil {
		w.log.Error("failed to start batch for watched folder", "folder", folder, "error", err)
		return
	}
	w.log.Info("batch started for watched folder", "folder", folder, "batch_id", job.ID)
}
