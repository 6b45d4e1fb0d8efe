// Package watcher reloads the dataset when its files change, using fsnotify with a
// debounce so an editor's burst of writes triggers one reload.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches dataset files and directories and invokes onChange after changes settle.
type Watcher struct {
	targets    []string
	isDir      map[string]bool
	extensions []string
	onChange   func()
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	timer      *time.Timer
	done       chan struct{}
	started    bool
	stopOnce   sync.Once
	logger     *zap.Logger // optional; when set, logs debug events
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output (file events, reload triggers, etc.).
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the quiet period before onChange runs.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for targets, which may be dataset files or directories.
// Inside directories only files with one of extensions count (empty = all).
func NewWatcher(targets []string, extensions []string, onChange func(), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		targets:    targets,
		isDir:      make(map[string]bool),
		extensions: extensions,
		onChange:   onChange,
		debounce:   defaultDebounce,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watcher starting", zap.Strings("targets", w.targets), zap.Strings("extensions", w.extensions))
	}
	resolved := make([]string, 0, len(w.targets))
	for _, target := range w.targets {
		abs, err := w.addTargetLocked(target)
		if err != nil {
			_ = fsw.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
		resolved = append(resolved, abs)
	}
	w.targets = resolved
	w.mu.Unlock()
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.underDirTarget(path) {
				w.handleNewDirectory(path)
			}
			return
		}
	}
	if !w.relevant(path) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		w.schedule()
	}
}

// handleNewDirectory watches a directory created under a watched directory and
// schedules a reload when it already contains dataset files.
func (w *Watcher) handleNewDirectory(dirPath string) {
	w.mu.Lock()
	fsw := w.watcher
	exts := append([]string(nil), w.extensions...)
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	found := false
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil && w.logger != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if matchExtension(path, exts) {
			found = true
		}
		return nil
	})
	if found {
		w.schedule()
	}
}

// relevant reports whether path is a watched file or a matching file in a watched directory.
func (w *Watcher) relevant(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, target := range w.targets {
		if w.isDir[target] {
			if inDir(target, path) && path != target && matchExtension(path, w.extensions) {
				return true
			}
			continue
		}
		if path == target {
			return true
		}
	}
	return false
}

func (w *Watcher) underDirTarget(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, target := range w.targets {
		if w.isDir[target] && inDir(target, path) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	if len(extensions) == 0 {
		return true
	}
	for _, e := range extensions {
		eNorm := strings.TrimPrefix(strings.ToLower(e), ".")
		extNorm := strings.TrimPrefix(strings.ToLower(ext), ".")
		if eNorm == extNorm {
			return true
		}
	}
	return false
}

// schedule (re)arms the single reload timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		logger := w.logger
		active := w.started
		w.mu.Unlock()
		if !active {
			return
		}
		if logger != nil {
			logger.Debug("watcher triggering reload (debounced)")
		}
		if w.onChange != nil {
			w.onChange()
		}
	})
}

// addTargetLocked watches a file through its parent directory, so replacing the file
// by rename is seen, or a directory with all its subdirectories.
func (w *Watcher) addTargetLocked(target string) (string, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("watch %s: %w", abs, err)
	}
	if !info.IsDir() {
		w.isDir[abs] = false
		return abs, w.watcher.Add(filepath.Dir(abs))
	}
	w.isDir[abs] = true
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
	return abs, err
}

// Targets returns the watched paths, absolute once started.
func (w *Watcher) Targets() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.targets...)
}

// Stop stops the watcher and releases resources. A pending reload is cancelled.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
