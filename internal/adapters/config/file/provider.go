// Package file provides file-backed configuration with hot-reload.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LoadFunc parses the file at path.
type LoadFunc[T any] func(path string) (T, error)

// Provider loads a file through a LoadFunc and reloads it whenever the
// file is written or replaced.
type Provider[T any] struct {
	path    string
	load    LoadFunc[T]
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	mu      sync.RWMutex
	current T
}

// Option configures a Provider.
type Option[T any] func(*Provider[T])

func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Provider[T]) {
		p.logger = logger
	}
}

// NewProvider creates a new file-backed provider.
func NewProvider[T any](path string, load LoadFunc[T], opts ...Option[T]) (*Provider[T], error) {
	if path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if load == nil {
		return nil, fmt.Errorf("load function required")
	}

	p := &Provider[T]{
		path:   path,
		load:   load,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Path returns the watched file path.
func (p *Provider[T]) Path() string {
	return p.path
}

// Load loads the file and makes it current.
func (p *Provider[T]) Load(ctx context.Context) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, err := p.load(p.path)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("load %s: %w", p.path, err)
	}

	p.current = v
	p.logger.Info("file loaded", slog.String("path", p.path))

	return v, nil
}

// Current returns the last successfully loaded value.
func (p *Provider[T]) Current() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Watch reloads the file on change and calls onChange with the new value.
// A failed reload keeps the previous value. Watching stops when ctx ends.
func (p *Provider[T]) Watch(ctx context.Context, onChange func(T)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()

	// Watch the directory: editors and config managers replace files by
	// rename, which drops a watch on the file itself.
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	p.logger.Info("watching file for changes", slog.String("path", p.path))

	target := filepath.Clean(p.path)
	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("file watch stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				p.logger.Info("file changed, reloading", slog.String("path", event.Name))

				v, err := p.Load(ctx)
				if err != nil {
					p.logger.Error("failed to reload file",
						slog.String("error", err.Error()),
						slog.String("path", p.path))
					continue
				}

				onChange(v)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Error("file watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// Close stops watching the file.
func (p *Provider[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher != nil {
		return p.watcher.Close()
	}

	return nil
}
