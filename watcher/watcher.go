// Package watcher reports capture files under a directory tree that are
// ready to be parsed.
//
// Every matching file already present when Run starts is reported, and so
// is every file created or modified afterwards. A file is only reported
// once it has been quiet for the settle delay. Delivery is at-least-once:
// a file that keeps changing is reported again after each quiet period.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"availability-watcher/utils"
)

const minPollInterval = 10 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Pattern is a filepath.Match glob applied to base names.
	Pattern     string
	SettleDelay time.Duration
	// Exclude lists paths that are never reported even if they match.
	Exclude []string
	Logger  *utils.Logger
}

// Watcher observes a directory tree for capture files.
type Watcher struct {
	root    string
	opts    Options
	exclude map[string]struct{}
	logger  *utils.Logger

	fsw     *fsnotify.Watcher
	pending map[string]time.Time
}

// New creates a Watcher for root. The root is created if it does not exist.
func New(root string, opts Options) (*Watcher, error) {
	if opts.Pattern == "" {
		opts.Pattern = "*"
	}
	if _, err := filepath.Match(opts.Pattern, "x"); err != nil {
		return nil, fmt.Errorf("watcher: pattern %q: %w", opts.Pattern, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("watcher: create root: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewLogger()
	}

	exclude := make(map[string]struct{}, len(opts.Exclude))
	for _, p := range opts.Exclude {
		exclude[absPath(p)] = struct{}{}
	}

	return &Watcher{
		root:    root,
		opts:    opts,
		exclude: exclude,
		logger:  logger,
		pending: make(map[string]time.Time),
	}, nil
}

// Matches reports whether path would be reported by the watcher.
func (w *Watcher) Matches(path string) bool {
	if _, skip := w.exclude[absPath(path)]; skip {
		return false
	}
	ok, _ := filepath.Match(w.opts.Pattern, filepath.Base(path))
	return ok
}

// Run emits ready file paths on out until ctx is done. Sends block when
// out is full. Run does not close out.
func (w *Watcher) Run(ctx context.Context, out chan<- string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fsw.Close()
	w.fsw = fsw

	// Directories are watched before they are scanned so that a file
	// created in between is seen by at least one of the two.
	backlog, err := w.addTree(w.root)
	if err != nil {
		return err
	}
	w.logger.Info("[watcher] Watching %s, %d existing artifact(s) queued", w.root, backlog)

	interval := w.opts.SettleDelay / 2
	if interval < minPollInterval {
		interval = minPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("[watcher] %v", err)
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				if _, err := w.addTree(w.root); err != nil {
					w.logger.Warn("[watcher] Rescan after overflow failed: %v", err)
				}
			}

		case <-ticker.C:
			if !w.flush(ctx, out) {
				return nil
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if _, err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("[watcher] Cannot watch new directory %s: %v", ev.Name, err)
			}
			return
		}
		w.touch(ev.Name)
	case ev.Has(fsnotify.Write):
		w.touch(ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
	}
}

func (w *Watcher) touch(path string) {
	if !w.Matches(path) {
		return
	}
	w.pending[path] = time.Now().Add(w.opts.SettleDelay)
}

// addTree watches dir and every directory below it, and queues every
// matching file found. It returns the number of files queued.
func (w *Watcher) addTree(dir string) (int, error) {
	queued := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn("[watcher] Skipping %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watcher: watch %s: %w", path, err)
			}
			return nil
		}
		if d.Type().IsRegular() && w.Matches(path) {
			w.touch(path)
			queued++
		}
		return nil
	})
	return queued, err
}

// flush emits pending files whose settle deadline has passed. It returns
// false if ctx ended while blocked on out.
func (w *Watcher) flush(ctx context.Context, out chan<- string) bool {
	now := time.Now()
	var ready []string
	for path, deadline := range w.pending {
		if now.Before(deadline) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		// Still being written without events reaching us yet.
		if quietUntil := info.ModTime().Add(w.opts.SettleDelay); now.Before(quietUntil) {
			w.pending[path] = quietUntil
			continue
		}
		ready = append(ready, path)
	}
	sort.Strings(ready)

	for _, path := range ready {
		select {
		case out <- path:
			delete(w.pending, path)
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}
