// Package ingest turns media files dropped into an inbox directory into
// recorded sessions.
package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// MediaExtensions are the file extensions picked up from the inbox.
var MediaExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm"}

// Handler ingests one settled media file.
type Handler func(ctx context.Context, path string) error

// Watcher watches an inbox directory and hands settled media files to a Handler.
// Files are moved to processed/ or failed/ once handled.
type Watcher struct {
	dir     string
	handler Handler
	settle  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher. settle is how long a file must go without
// writes before it is handled.
func NewWatcher(dir string, settle time.Duration, handler Handler) *Watcher {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &Watcher{
		dir:     dir,
		handler: handler,
		settle:  settle,
		pending: make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled. Media files already in the inbox are
// handled first.
func (w *Watcher) Run(ctx context.Context) error {
	logger := observability.LoggerFromContext(ctx)

	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() && IsMedia(e.Name()) {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	logger.Info().Str("dir", w.dir).Msg("watching upload inbox")

	defer w.wait()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if filepath.Dir(event.Name) != filepath.Clean(w.dir) || !IsMedia(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("inbox watcher error")
		}
	}
}

// IsMedia reports whether name has a known media extension.
func IsMedia(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, m := range MediaExtensions {
		if ext == m {
			return true
		}
	}
	return false
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			t.Reset(w.settle)
			return
		}
		// already fired and being handled
		return
	}

	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.handle(ctx, path)
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
	})
}

func (w *Watcher) handle(ctx context.Context, path string) {
	logger := observability.LoggerFromContext(ctx)
	if ctx.Err() != nil {
		return
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return
	}

	dest := processedDir
	if err := w.handler(ctx, path); err != nil {
		logger.Error().Err(err).Str("file", path).Msg("failed to ingest media file")
		dest = failedDir
	} else {
		logger.Info().Str("file", path).Msg("ingested media file")
	}

	target := filepath.Join(w.dir, dest, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("failed to move ingested file")
	}
}

// wait stops pending timers that have not fired and waits for running handlers.
func (w *Watcher) wait() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()
	w.wg.Wait()
}
