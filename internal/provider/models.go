package provider

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/costory/costory/internal/logging"
)

//go:embed models.yaml
var embeddedModels []byte

// Pool names a routing pool of candidate models.
type Pool string

const (
	PoolFree        Pool = "free"
	PoolPaidLow     Pool = "paid_low"
	PoolPaidPremium Pool = "paid_premium"
)

// FreeSuffix marks a free-tier model id on OpenRouter.
const FreeSuffix = ":free"

// ModelPricing describes pricing per million tokens
type ModelPricing struct {
	Input  decimal.Decimal `json:"input" yaml:"input"`   // $ per 1M input tokens
	Output decimal.Decimal `json:"output" yaml:"output"` // $ per 1M output tokens
}

// ModelInfo describes an AI model
type ModelInfo struct {
	ID            string       `json:"id" yaml:"id"`
	DisplayName   string       `json:"displayName" yaml:"displayName"`
	ContextWindow int          `json:"contextWindow" yaml:"contextWindow"`
	Pricing       ModelPricing `json:"pricing" yaml:"pricing"`
}

// ModelsConfig is the YAML catalog: descriptors plus ordered pool membership.
// Pool membership is static; pricing is refreshed at runtime by the registry.
type ModelsConfig struct {
	Version string            `yaml:"version"`
	Default string            `yaml:"default"`
	Models  []ModelInfo       `yaml:"models"`
	Pools   map[Pool][]string `yaml:"pools"`
}

// Pool returns the ordered candidate ids of a pool.
func (c *ModelsConfig) Pool(p Pool) []string {
	if c == nil || c.Pools == nil {
		return nil
	}
	return c.Pools[p]
}

// Validate checks every pool member and the default are described.
func (c *ModelsConfig) Validate() error {
	known := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("model with empty id")
		}
		if known[m.ID] {
			return fmt.Errorf("duplicate model %s", m.ID)
		}
		known[m.ID] = true
	}
	for pool, ids := range c.Pools {
		for _, id := range ids {
			if !known[id] {
				return fmt.Errorf("pool %s references unknown model %s", pool, id)
			}
		}
	}
	if c.Default == "" {
		return fmt.Errorf("default model not set")
	}
	if !known[c.Default] {
		return fmt.Errorf("default model %s is not described", c.Default)
	}
	return nil
}

// IsFreeID reports whether an id carries the free-tier naming marker.
func IsFreeID(id string) bool {
	return strings.HasSuffix(id, FreeSuffix)
}

// Parse decodes and validates a catalog.
func Parse(data []byte) (*ModelsConfig, error) {
	var c ModelsConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse models catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid models catalog: %w", err)
	}
	return &c, nil
}

// Load reads a catalog file from disk.
func Load(path string) (*ModelsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models catalog: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded catalog.
func Default() *ModelsConfig {
	c, err := Parse(embeddedModels)
	if err != nil {
		panic(fmt.Sprintf("embedded models.yaml: %v", err))
	}
	return c
}

// Watcher reloads a catalog file when it changes on disk.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	debounce *time.Timer
	done     chan struct{}
}

// WatchFile watches path and calls onReload with each successfully parsed
// revision. Unparseable revisions are logged and skipped.
func WatchFile(path string, onReload func(*ModelsConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	w := &Watcher{path: path, watcher: fw, done: make(chan struct{})}
	base := filepath.Base(path)

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.mu.Lock()
				if w.debounce != nil {
					w.debounce.Stop()
				}
				// Editors may write multiple times.
				w.debounce = time.AfterFunc(100*time.Millisecond, func() {
					cfg, err := Load(path)
					if err != nil {
						logging.Warnf("[Catalog] reload of %s failed: %v", path, err)
						return
					}
					logging.Infof("[Catalog] %s reloaded (%d models)", path, len(cfg.Models))
					onReload(cfg)
				})
				w.mu.Unlock()
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logging.Warnf("[Catalog] watcher error: %v", err)
			}
		}
	}()

	logging.Infof("[Catalog] watching %s for changes", path)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
	return err
}
