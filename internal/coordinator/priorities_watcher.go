package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"velvet/internal/logging"
)

// PrioritiesWatcher watches a yaml file of coordination weights and applies
// changes at runtime without a restart. Rapid saves are debounced; a file
// that fails to parse leaves the current weights untouched.
type PrioritiesWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	coord    *Coordinator
	path     string
	debounce map[string]time.Time
	window   time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool

	applied int64
	errors  int64
}

// prioritiesFile is the expected document shape.
type prioritiesFile struct {
	Priorities map[string]float64 `yaml:"priorities"`
}

// NewPrioritiesWatcher creates a watcher for the given file.
func NewPrioritiesWatcher(path string, coord *Coordinator) (*PrioritiesWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PrioritiesWatcher{
		watcher:  w,
		coord:    coord,
		path:     path,
		debounce: make(map[string]time.Time),
		window:   500 * time.Millisecond, // debounce rapid saves
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start loads the file once, then begins watching its directory (editors
// replace files rather than writing in place, so watching the file itself
// misses renames).
func (pw *PrioritiesWatcher) Start() error {
	pw.mu.Lock()
	if pw.running {
		pw.mu.Unlock()
		return nil
	}
	pw.running = true
	pw.mu.Unlock()

	if err := pw.apply(); err != nil {
		logging.Coordination("priorities watcher: initial load: %v (keeping defaults)", err)
	}

	dir := filepath.Dir(pw.path)
	if err := pw.watcher.Add(dir); err != nil {
		return err
	}

	go pw.loop()
	logging.Coordination("priorities watcher: watching %s", pw.path)
	return nil
}

func (pw *PrioritiesWatcher) loop() {
	defer close(pw.doneCh)

	for {
		select {
		case <-pw.stopCh:
			return
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(pw.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pw.debounced(ev.Name) {
				continue
			}
			if err := pw.apply(); err != nil {
				pw.mu.Lock()
				pw.errors++
				pw.mu.Unlock()
				logging.Coordination("priorities watcher: %v", err)
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			logging.Coordination("priorities watcher: fsnotify error: %v", err)
		}
	}
}

func (pw *PrioritiesWatcher) debounced(name string) bool {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	now := time.Now()
	if last, ok := pw.debounce[name]; ok && now.Sub(last) < pw.window {
		return true
	}
	pw.debounce[name] = now
	return false
}

// apply reads and parses the file and replaces the coordination weights.
func (pw *PrioritiesWatcher) apply() error {
	data, err := os.ReadFile(pw.path)
	if err != nil {
		return err
	}

	var pf prioritiesFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return err
	}
	if len(pf.Priorities) == 0 {
		// Also accept a bare top-level mapping.
		var plain map[string]float64
		if err := yaml.Unmarshal(data, &plain); err != nil {
			return err
		}
		if len(plain) == 0 {
			return fmt.Errorf("no priorities in %s", pw.path)
		}
		pf.Priorities = plain
	}

	pw.coord.UpdatePriorities(pf.Priorities)
	pw.mu.Lock()
	pw.applied++
	pw.mu.Unlock()
	return nil
}

// Applied returns how many updates were applied.
func (pw *PrioritiesWatcher) Applied() int64 {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.applied
}

// Stop halts the watcher.
func (pw *PrioritiesWatcher) Stop() {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		return
	}
	pw.running = false
	pw.mu.Unlock()

	close(pw.stopCh)
	_ = pw.watcher.Close()
	<-pw.doneCh
}
