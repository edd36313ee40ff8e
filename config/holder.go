package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fatewise/fatewise/domain/plan"
	"github.com/fatewise/fatewise/ports"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder provides thread-safe access to configuration with hot reload.
// It implements ports.CatalogSource: the plan catalog is rebuilt on every
// successful reload and swapped atomically, so in-flight requests keep the
// catalog they started with.
type Holder struct {
	mu      sync.RWMutex
	config  *Config
	catalog *plan.Catalog
	path    string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewHolder creates a holder around an already-validated config.
func NewHolder(cfg *Config, path string, logger zerolog.Logger) (*Holder, error) {
	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return nil, err
	}

	absPath := path
	if path != "" {
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("absolute path: %w", err)
		}
	}

	return &Holder{
		config:  cfg,
		catalog: catalog,
		path:    absPath,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Get returns the current configuration (thread-safe).
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Catalog returns the current plan catalog (thread-safe).
func (h *Holder) Catalog() *plan.Catalog {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.catalog
}

// Reload reloads the configuration from disk. A failing load or an invalid
// plan table keeps the old config and catalog.
func (h *Holder) Reload() error {
	if h.path == "" {
		return fmt.Errorf("reload: no config file to reload from")
	}

	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		return fmt.Errorf("reload config: %w", err)
	}
	newCatalog, err := newCfg.BuildCatalog()
	if err != nil {
		h.logger.Error().Err(err).Msg("plan catalog rebuild failed, keeping old catalog")
		return err
	}

	h.mu.Lock()
	h.config = newCfg
	h.catalog = newCatalog
	h.mu.Unlock()

	h.logger.Info().Int("plans", len(newCatalog.List())).Msg("configuration reloaded")
	return nil
}

// WatchFile starts watching the config file for changes.
// Changes trigger automatic reload.
func (h *Holder) WatchFile() error {
	if h.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Watch the directory; editors that save atomically replace the file.
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

func (h *Holder) watchLoop() {
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Name != h.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := h.Reload(); err != nil {
				h.logger.Warn().Err(err).Msg("hot reload skipped")
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")
		case <-h.stopCh:
			return
		}
	}
}

// Close stops watching and releases resources.
func (h *Holder) Close() error {
	close(h.stopCh)
	if h.watcher != nil {
		return h.watcher.Close()
	}
	return nil
}

// Ensure interface compliance.
var _ ports.CatalogSource = (*Holder)(nil)
