package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file on change, with a 60s poll as a safety
// net for filesystems where fsnotify silently fails to deliver events
// (network mounts, some container overlay filesystems).
type Watcher struct {
	path    string
	reload  func() error
	lastErr error
}

func NewWatcher(path string, reload func() error) *Watcher {
	return &Watcher{path: path, reload: reload}
}

// Start runs the watch loop until ctx is cancelled. Reload errors are
// logged, not fatal — the previously loaded config keeps serving.
func (w *Watcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("[ConfigWatcher] fsnotify unavailable (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		log.Printf("[ConfigWatcher] failed to watch %s (%v), falling back to polling", w.path, err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if filepath.Clean(event.Name) != filepath.Clean(w.path) {
						continue
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						time.Sleep(100 * time.Millisecond) // debounce partial writes
						w.doReload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[ConfigWatcher] watch error: %v", err)
				}
			}
		}()
	}

	// Always run the slow poll too — belt and suspenders against a
	// watcher that silently stops delivering events.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.doReload()
			}
		}
	}()
}

func (w *Watcher) doReload() {
	if err := w.reload(); err != nil {
		w.lastErr = err
		log.Printf("[ConfigWatcher] reload of %s failed: %v", w.path, err)
		return
	}
	w.lastErr = nil
}

// LastError returns the most recent reload error, if any.
func (w *Watcher) LastError() error { return w.lastErr }
