package workspace

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Loader caches bootstrap files per workspace directory and drops a cache
// entry as soon as fsnotify reports a change to one of its bootstrap files.
type Loader struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cache   map[string][]BootstrapFile
	watched map[string]bool
	// gen counts invalidations per dir. A read only fills the cache when no
	// invalidation happened while it ran.
	gen    map[string]uint64
	logger *zap.Logger

	beforeStore func(dir string)

	done      chan struct{}
	closeOnce sync.Once
}

// NewLoader starts the watcher goroutine. Call Close to stop it.
func NewLoader(logger *zap.Logger) (*Loader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		watcher: watcher,
		cache:   make(map[string][]BootstrapFile),
		watched: make(map[string]bool),
		gen:     make(map[string]uint64),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Load returns the bootstrap files of dir, from cache when unchanged.
func (l *Loader) Load(dir string) ([]BootstrapFile, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if cached, ok := l.cache[abs]; ok {
		l.mu.Unlock()
		return append([]BootstrapFile(nil), cached...), nil
	}
	gen := l.gen[abs]
	watching := l.watched[abs]
	if !watching {
		if err := l.watcher.Add(abs); err != nil {
			l.logger.Warn("bootstrap watch failed; serving uncached", zap.String("dir", abs), zap.Error(err))
		} else {
			l.watched[abs] = true
			watching = true
		}
	}
	l.mu.Unlock()

	files, err := LoadBootstrapFiles(abs)
	if err != nil {
		return nil, err
	}
	if watching {
		if l.beforeStore != nil {
			l.beforeStore(abs)
		}
		l.mu.Lock()
		if l.gen[abs] == gen {
			l.cache[abs] = append([]BootstrapFile(nil), files...)
		}
		l.mu.Unlock()
	}
	return files, nil
}

// Cached reports whether dir currently has a cache entry.
func (l *Loader) Cached(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cache[abs]
	return ok
}

// Invalidate drops the cache entry for dir.
func (l *Loader) Invalidate(dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidateLocked(abs)
}

func (l *Loader) invalidateLocked(dir string) {
	delete(l.cache, dir)
	l.gen[dir]++
}

func (l *Loader) run() {
	defer close(l.done)
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("bootstrap watcher error", zap.Error(err))
		}
	}
}

func (l *Loader) handleEvent(event fsnotify.Event) {
	if !isBootstrapFile(filepath.Base(event.Name)) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	dir := filepath.Dir(event.Name)
	l.mu.Lock()
	l.invalidateLocked(dir)
	l.mu.Unlock()
	l.logger.Debug("bootstrap cache invalidated", zap.String("dir", dir), zap.String("file", event.Name))
}

// Close stops watching and waits for the watcher goroutine to exit.
func (l *Loader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.watcher.Close()
		<-l.done
	})
	return err
}

func isBootstrapFile(name string) bool {
	for _, candidate := range BootstrapFileNames {
		if candidate == name {
			return true
		}
	}
	return false
}
