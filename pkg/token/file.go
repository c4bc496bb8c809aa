package token

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// FileOption configures a FileSource.
type FileOption func(*FileSource)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FileOption {
	return func(f *FileSource) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithDebounce sets how long writes must settle before the file is reread.
func WithDebounce(d time.Duration) FileOption {
	return func(f *FileSource) {
		if d > 0 {
			f.debounce = d
		}
	}
}

// FileSource reads the token from a file and rereads it when the file
// changes. The parent directory is watched so editors that replace the file
// are seen too.
type FileSource struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	current string
	issued  string
	changed chan struct{}
	timer   *time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

// NewFileSource reads path and starts watching it.
func NewFileSource(path string, opts ...FileOption) (*FileSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("token: resolve %s: %w", path, err)
	}
	f := &FileSource{
		path:     abs,
		logger:   slog.Default(),
		debounce: defaultDebounce,
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	if _, err := f.read(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("token: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("token: watch %s: %w", filepath.Dir(abs), err)
	}
	f.watcher = w
	f.logger.Info("watching token file", "path", abs)
	go f.watchLoop()
	return f, nil
}

func (f *FileSource) read() (string, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("token: read %s: %w", f.path, err)
	}
	tok := strings.TrimSpace(string(b))
	f.mu.Lock()
	if tok != f.current {
		f.current = tok
		close(f.changed)
		f.changed = make(chan struct{})
	}
	f.mu.Unlock()
	return tok, nil
}

func (f *FileSource) watchLoop() {
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				f.schedule()
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error("token watcher error", "error", err)
		}
	}
}

func (f *FileSource) schedule() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.debounce, func() {
		if _, err := f.read(); err != nil {
			f.logger.Warn("token file reload failed", "error", err)
			return
		}
		f.logger.Info("token file reloaded", "path", f.path)
	})
}

// Token returns the current token.
func (f *FileSource) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == "" {
		return "", ErrNoToken
	}
	f.issued = f.current
	return f.current, nil
}

// Refresh rereads the file and returns a token that differs from the last
// one handed out, waiting for the file to change if necessary.
func (f *FileSource) Refresh(ctx context.Context) (string, error) {
	if _, err := f.read(); err != nil {
		f.logger.Warn("token file reread failed", "error", err)
	}
	for {
		f.mu.Lock()
		if f.current != "" && f.current != f.issued {
			f.issued = f.current
			tok := f.current
			f.mu.Unlock()
			return tok, nil
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-changed:
		case <-f.done:
			return "", ErrNoFreshToken
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close stops watching the file.
func (f *FileSource) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		if f.timer != nil {
			f.timer.Stop()
		}
		f.mu.Unlock()
		err = f.watcher.Close()
	})
	return err
}
