// Package watch re-lints the workspace as source files and Datalog rule
// files change on disk.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"convlint/internal/logging"
	"convlint/internal/runner"
)

// Stats tracks watcher activity.
type Stats struct {
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	LintsRun      int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher monitors a workspace and re-lints changed files after events
// settle past the debounce window.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	runner      *runner.Runner
	workspace   string
	ruleDir     string
	onResult    func(*runner.RunResult)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// New creates a watcher over the workspace. onResult receives every re-lint
// outcome, including the errors-only case with zero findings.
func New(workspace, ruleDir string, r *runner.Runner, onResult func(*runner.RunResult)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fsw,
		runner:      r,
		workspace:   workspace,
		ruleDir:     filepath.Join(workspace, ruleDir),
		onResult:    onResult,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWorkspaceDirs(); err != nil {
		return err
	}
	if err := w.watcher.Add(w.ruleDir); err != nil {
		// The rule dir may not exist yet.
		logging.WatchDebug("rule dir watch failed: %v", err)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
	}
	logging.Watch("watcher stopped")
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// addWorkspaceDirs registers every visible directory; fsnotify does not
// recurse on its own.
func (w *Watcher) addWorkspaceDirs() error {
	return filepath.Walk(w.workspace, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		name := info.Name()
		if strings.HasPrefix(name, ".") && path != w.workspace {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			logging.WatchDebug("watch %s failed: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	logging.Watch("watching %s", w.workspace)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-debounceTicker.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	interesting := strings.HasSuffix(event.Name, ".cs") || strings.HasSuffix(event.Name, ".mg")

	// New directories must be registered to see files created inside them.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(event.Name), ".") {
				if err := w.watcher.Add(event.Name); err != nil {
					logging.WatchDebug("watch new dir %s failed: %v", event.Name, err)
				}
			}
			return
		}
	}
	if !interesting {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = time.Now()
	switch {
	case event.Op&fsnotify.Create != 0:
		w.stats.FilesCreated++
	case event.Op&fsnotify.Write != 0:
		w.stats.FilesModified++
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		w.stats.FilesDeleted++
	default:
		return // chmod and friends
	}

	logging.WatchDebug("event %s %s", event.Op, event.Name)
	w.debounceMap[event.Name] = time.Now()
}

// processSettled re-lints files whose last event is older than the debounce
// window. Rule file changes trigger re-evaluation without re-parsing.
func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var sources []string
	rulesChanged := false
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) < w.debounceDur {
			continue
		}
		delete(w.debounceMap, path)
		if strings.HasSuffix(path, ".mg") {
			rulesChanged = true
			continue
		}
		if rel, err := filepath.Rel(w.workspace, path); err == nil {
			sources = append(sources, filepath.ToSlash(rel))
		}
	}
	w.mu.Unlock()

	if len(sources) == 0 && !rulesChanged {
		return
	}

	logging.Watch("re-linting: %d source files, rules changed: %v", len(sources), rulesChanged)
	result, err := w.runner.LintFiles(ctx, sources)
	if err != nil {
		logging.Get(logging.CategoryWatch).Error("re-lint failed: %v", err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.stats.LintsRun++
	w.mu.Unlock()

	if w.onResult != nil {
		w.onResult(result)
	}
}
