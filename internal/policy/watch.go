package policy

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"coda/pkg/logger"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a ruleset file into an Evaluator whenever it changes.
// A file that fails to parse leaves the previous ruleset in place.
type Watcher struct {
	path      string
	evaluator *Evaluator
	watcher   *fsnotify.Watcher
	logger    zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	timer    *time.Timer
	onReload func(Ruleset, error)
}

// NewWatcher watches path and installs reloaded rules as the evaluator's
// file ruleset. The file's directory is watched so editors that replace the
// file are handled.
func NewWatcher(path string, evaluator *Evaluator) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Watcher{
		path:      abs,
		evaluator: evaluator,
		watcher:   w,
		logger:    logger.Component("policy"),
		stopCh:    make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after every reload attempt.
func (w *Watcher) OnReload(fn func(Ruleset, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start begins processing file events.
func (w *Watcher) Start() {
	go w.run()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("ruleset watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	rs, err := LoadRuleset(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("ruleset reload failed, keeping previous rules")
	} else {
		w.evaluator.SetFileRules(rs)
		w.logger.Info().Str("path", w.path).Int("rules", len(rs)).Msg("ruleset reloaded")
	}

	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()
	if fn != nil {
		fn(rs, err)
	}
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		_ = w.watcher.Close()
	})
}
