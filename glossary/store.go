package glossary

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store holds the current glossary and swaps it when the backing file
// changes. Readers never block on a reload.
type Store struct {
	path     string
	logger   *zap.Logger
	debounce time.Duration

	current atomic.Pointer[Glossary]

	mu       sync.Mutex
	onReload []func(*Glossary)
}

// NewStore loads path once. An empty path yields an empty store that
// never reloads.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, logger: logger, debounce: 200 * time.Millisecond}
	if path == "" {
		s.current.Store(&Glossary{})
		return s, nil
	}
	g, err := Load(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(g)
	return s, nil
}

// Current returns the latest successfully loaded glossary.
func (s *Store) Current() *Glossary {
	return s.current.Load()
}

// OnReload registers fn to run after each successful reload.
func (s *Store) OnReload(fn func(*Glossary)) {
	s.mu.Lock()
	s.onReload = append(s.onReload, fn)
	s.mu.Unlock()
}

// Reload re-reads the file. On a parse error the previous glossary stays.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	g, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(g)

	s.mu.Lock()
	hooks := append(([]func(*Glossary))(nil), s.onReload...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(g)
	}
	return nil
}

// Watch reloads on file changes until ctx is done. It watches the parent
// directory so editors that replace the file by rename are picked up.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("glossary watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)
	s.logger.Debug("watching glossary", zap.String("path", target))

	// Rapid saves collapse into one reload.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(s.debounce)

		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn("glossary reload failed, keeping previous terms",
					zap.String("path", target), zap.Error(err))
				continue
			}
			s.logger.Info("glossary reloaded",
				zap.String("path", target), zap.Int("terms", s.Current().Len()))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("glossary watcher error", zap.Error(err))
		}
	}
}
