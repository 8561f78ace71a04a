package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// LoadCatalog reads and validates a YAML plans file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plans file: %w", err)
	}
	return &c, nil
}

// Holder gives concurrent readers the current catalog. When backed by a
// file it can reload on change; a failed reload keeps the old catalog.
type Holder struct {
	mu      sync.RWMutex
	catalog *Catalog
	path    string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	// onReload observes each reload attempt; nil error means success.
	onReload func(error)
}

// NewStaticHolder serves a fixed catalog.
func NewStaticHolder(c *Catalog) *Holder {
	return &Holder{catalog: c, logger: zerolog.Nop(), stopCh: make(chan struct{})}
}

// NewFileHolder loads path and serves it until Reload or a watched change.
func NewFileHolder(path string, logger zerolog.Logger) (*Holder, error) {
	c, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	return &Holder{
		catalog: c,
		path:    absPath,
		logger:  logger.With().Str("component", "plans").Logger(),
		stopCh:  make(chan struct{}),
	}, nil
}

// OnReload registers fn to observe reload attempts. Call before Watch.
func (h *Holder) OnReload(fn func(error)) {
	h.onReload = fn
}

func (h *Holder) Get() *Catalog {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.catalog
}

func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	c, err := LoadCatalog(h.path)
	if h.onReload != nil {
		h.onReload(err)
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("plans reload failed, keeping old catalog")
		return err
	}

	h.mu.Lock()
	h.catalog = c
	h.mu.Unlock()

	h.logger.Info().Int("plans", len(c.Plans)).Msg("plans reloaded")
	return nil
}

// Watch reloads the catalog whenever the plans file is written or
// recreated. The directory is watched so atomic saves are seen.
func (h *Holder) Watch() error {
	if h.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop()
	h.logger.Info().Str("path", h.path).Msg("watching plans file for changes")
	return nil
}

func (h *Holder) Stop() {
	select {
	case <-h.stopCh:
		return
	default:
		close(h.stopCh)
	}
	if h.watcher != nil {
		h.watcher.Close()
	}
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_ = h.Reload()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("plans watcher error")
		case <-h.stopCh:
			return
		}
	}
}
