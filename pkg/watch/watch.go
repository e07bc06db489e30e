// Package watch reports files that appear in a directory once
// their size and modification time stop changing.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vconv/pkg/log"

	"github.com/fsnotify/fsnotify"
)

// Options configures the watcher.
type Options struct {
	// Time a file must stay unchanged before it is reported.
	SettleDelay time.Duration

	// Lower case extensions including the dot, nil for all files.
	Extensions []string
}

func (o *Options) setDefaults() {
	if o.SettleDelay == 0 {
		o.SettleDelay = 500 * time.Millisecond
	}
}

// shouldIgnore hidden files and files with other extensions.
func (o *Options) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if o.Extensions == nil {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range o.Extensions {
		if e == ext {
			return false
		}
	}
	return true
}

// Watcher watches a single directory.
type Watcher struct {
	dir     string
	opts    Options
	logger  *log.Logger
	watcher *fsnotify.Watcher

	pending map[string]*pendingFile
	mu      sync.Mutex

	events chan string
	done   chan struct{}
}

type pendingFile struct {
	size    int64
	modTime time.Time
	timer   *time.Timer
}

// New returns a watcher for dir.
func New(dir string, opts Options, logger *log.Logger) (*Watcher, error) {
	opts.setDefaults()

	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %v", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %v: %w", dir, err)
	}

	return &Watcher{
		dir:     dir,
		opts:    opts,
		logger:  logger,
		watcher: watcher,
		pending: make(map[string]*pendingFile),
		events:  make(chan string),
		done:    make(chan struct{}),
	}, nil
}

// Events returns settled file paths.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Start processes events until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) {
	defer func() {
		close(w.done)
		w.watcher.Close()
		w.mu.Lock()
		for path, p := range w.pending {
			p.timer.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
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
			w.logger.Error().Src("watch").Msgf("%v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	if w.opts.shouldIgnore(path) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.cancelPending(path)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.startSettling(path)
	}
}

func (w *Watcher) startSettling(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, exists := w.pending[path]; exists {
		p.timer.Stop()
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		delete(w.pending, path)
		return
	}

	p := &pendingFile{
		size:    info.Size(),
		modTime: info.ModTime(),
	}
	p.timer = time.AfterFunc(w.opts.SettleDelay, func() {
		w.checkSettled(path)
	})
	w.pending[path] = p
}

func (w *Watcher) checkSettled(path string) {
	w.mu.Lock()
	p, exists := w.pending[path]
	if !exists {
		w.mu.Unlock()
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		delete(w.pending, path)
		w.mu.Unlock()
		return
	}

	if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
		p.size = info.Size()
		p.modTime = info.ModTime()
		p.timer = time.AfterFunc(w.opts.SettleDelay, func() {
			w.checkSettled(path)
		})
		w.mu.Unlock()
		return
	}

	delete(w.pending, path)
	w.mu.Unlock()

	w.logger.Debug().Src("watch").Msgf("settled: %v", path)
	select {
	case w.events <- path:
	case <-w.done:
	}
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, exists := w.pending[path]; exists {
		p.timer.Stop()
		delete(w.pending, path)
	}
}
