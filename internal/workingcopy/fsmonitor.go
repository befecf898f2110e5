package workingcopy

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/antgroup/wisp/internal/wlog"
)

// fsMonitor is the optional filesystem-monitor integration named in spec
// §4.5: rather than a watchman client (not in the dependency pack), changed
// paths are tracked via github.com/fsnotify/fsnotify, and the "watchman
// clock" field becomes a plain monotonically increasing generation counter
// bumped every time Snapshot drains the accumulated set.
type fsMonitor struct {
	root    string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	changed map[string]struct{}
	clock   uint64
}

func newFSMonitor(root string) (*fsMonitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	mon := &fsMonitor{root: root, watcher: w, changed: map[string]struct{}{}}
	if err := mon.addTree(root); err != nil {
		w.Close()
		return nil, err
	}
	go mon.loop()
	return mon, nil
}

func (m *fsMonitor) addTree(dir string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(p)
		if base == ".wisp" || base == ".git" {
			return filepath.SkipDir
		}
		return m.watcher.Add(p)
	})
}

func (m *fsMonitor) loop() {
	log := wlog.For("fsmonitor")
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(m.root, event.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			m.mu.Lock()
			m.changed[rel] = struct{}{}
			m.mu.Unlock()
			if event.Op&fsnotify.Create != 0 {
				_ = m.watcher.Add(event.Name)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Debug("fsmonitor watch error")
		}
	}
}

// snapshot drains the accumulated changed-path set and returns it together
// with the bumped generation clock, for use as the snapshot matcher's
// fsmonitor-provided changed-set.
func (m *fsMonitor) snapshot() (map[string]struct{}, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.changed
	m.changed = map[string]struct{}{}
	m.clock++
	return out, m.clock
}

func (m *fsMonitor) Close() error {
	return m.watcher.Close()
}
