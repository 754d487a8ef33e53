package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mrlecko/truth-capsules-sub001/internal/logging"
)

// debounceWindow coalesces the event bursts editors produce on save.
const debounceWindow = 250 * time.Millisecond

// Watch re-loads and re-lints the tree whenever a YAML file under root
// changes, invoking onReload with each fresh snapshot. It blocks until ctx
// is cancelled. The initial load is delivered before any events.
func Watch(ctx context.Context, root string, opts Options, onReload func(*Store, *LintReport)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addWatchDirs(watcher, root); err != nil {
		return err
	}

	s, report, err := Load(root, opts)
	if err != nil {
		return err
	}
	onReload(s, report)

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceWindow, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				// New subdirectories under capsules/ must be watched too.
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					_ = addWatchDirs(watcher, ev.Name)
					schedule()
					continue
				}
			}
			if !isYAMLPath(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				logging.StoreDebug("watch event %s on %s", ev.Op, ev.Name)
				schedule()
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.StoreWarn("watch error: %v", werr)

		case <-reload:
			s, report, err := Load(root, opts)
			if err != nil {
				logging.StoreError("reload failed: %v", err)
				continue
			}
			onReload(s, report)
		}
	}
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if base := filepath.Base(path); strings.HasPrefix(base, ".") && path != root {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
