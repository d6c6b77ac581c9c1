package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/haeca-go/internal/loader"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// RunHandler receives the outcome of every pipeline run started by the
// watcher, including the initial one.
type RunHandler func(out *Outcome, err error)

// WatchConfig analyzes input once and then again whenever a YAML file under
// it changes. A file input is watched through its directory. Bursts of
// changes within debounce collapse into one run. Blocks until the context
// is cancelled.
func WatchConfig(ctx context.Context, input string, debounce time.Duration, opts PipelineOptions, handle RunHandler) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	info, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("watching %s: %w", input, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	root := input
	var matcher gitignore.Matcher
	if info.IsDir() {
		patterns, err := loadGitignore(root)
		if err != nil {
			return err
		}
		matcher = newMatcher(patterns)
		if err := addDirs(watcher, root, matcher); err != nil {
			return fmt.Errorf("setting up watcher: %w", err)
		}
	} else {
		root = filepath.Dir(input)
		if err := watcher.Add(root); err != nil {
			return fmt.Errorf("setting up watcher: %w", err)
		}
	}

	handle(RunPipeline(ctx, input, opts, nil))

	pending := 0
	batchTimer := time.NewTimer(debounce)
	batchTimer.Stop() // Don't start yet

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !shouldWatchFile(event.Name, input, info.IsDir(), matcher) {
				continue
			}
			// Watch directories created after startup.
			if event.Has(fsnotify.Create) && info.IsDir() {
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					_ = addDirs(watcher, event.Name, matcher)
				}
			}
			pending++
			batchTimer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if opts.Logger != nil {
				opts.Logger.Warn("watch error", "error", err)
			}

		case <-batchTimer.C:
			if pending == 0 {
				continue
			}
			if opts.Logger != nil {
				opts.Logger.Debug("re-analyzing", "changes", pending)
			}
			pending = 0
			handle(RunPipeline(ctx, input, opts, nil))
		}
	}
}

// addDirs watches dir and every directory below it that is not ignored.
func addDirs(watcher *fsnotify.Watcher, dir string, matcher gitignore.Matcher) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && matcher != nil && shouldSkipDir(d.Name(), path, dir, matcher) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// shouldWatchFile reports whether a change to path can affect the analysis
// of input. For a file input only that file counts; new subdirectories of a
// directory input count so they get watched.
func shouldWatchFile(path, input string, isDir bool, matcher gitignore.Matcher) bool {
	if !isDir {
		return filepath.Clean(path) == filepath.Clean(input)
	}

	relPath, err := filepath.Rel(input, path)
	if err != nil {
		return false
	}
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return matcher == nil || !matcher.Match(splitPath(relPath), true)
	}
	if !loader.IsYAML(path) {
		return false
	}
	return matcher == nil || !matcher.Match(splitPath(relPath), false)
}
