package web

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the repository working tree and invokes onChange after a
// quiet period, so a burst of writes produces one notification.
type Watcher struct {
	mu       sync.Mutex
	fs       *fsnotify.Watcher
	timer    *time.Timer
	onChange func()
	debounce time.Duration
	closed   bool
}

// NewWatcher starts watching root recursively (skipping .git and common build
// output). onChange runs on a timer goroutine; it must be safe to call from
// there.
func NewWatcher(root string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	w := &Watcher{fs: fsw, onChange: onChange, debounce: debounce}
	if err := addRecursive(fsw, root); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.observe()
	return w, nil
}

// Close stops the watcher and any pending notification.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	return w.fs.Close()
}

func (w *Watcher) observe() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if isIgnored(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addRecursive(w.fs, ev.Name)
				}
			}
			w.schedule()
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		_ = fsw.Add(path)
		return nil
	})
}

func isIgnored(path string) bool {
	if path == "" {
		return false
	}
	sep := string(filepath.Separator)
	for _, dir := range []string{".git", ".carve", "node_modules", "dist", "build", ".cache"} {
		if strings.Contains(path, sep+dir+sep) {
			return true
		}
	}
	switch filepath.Base(path) {
	case ".git", ".carve", "node_modules", "dist", "build", ".cache":
		return true
	}
	return false
}
