package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/polyroom/polyroom/internal/logging"
	"github.com/polyroom/polyroom/internal/room"
)

// Metadata describes a plugin: static author/version information plus
// whether the plugin ships a client-side module (module.js) served under
// the /<room>/plugin/ path.
type Metadata struct {
	Author    string `json:"author"`
	Version   string `json:"version"`
	HasModule bool   `json:"hasModule"`
}

// Entry is one registered plugin.
type Entry struct {
	Name    string
	Handler room.Handler
	Meta    Metadata
}

// Registry is the process-wide capability table mapping API names to
// handlers. It is populated at startup and read-only on the hot path;
// plugins are shared across rooms but always invoked with a specific
// room.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a handler under the given API name.
func (r *Registry) Register(name string, h room.Handler, meta Metadata) error {
	if name == "" {
		return fmt.Errorf("plugin name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("plugin %s: handler must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("plugin %s is already registered", name)
	}
	r.entries[name] = &Entry{Name: name, Handler: h, Meta: meta}
	return nil
}

// Lookup resolves an API name. It implements room.APITable.
func (r *Registry) Lookup(name string) (room.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.Handler, true
}

// Metadata returns the metadata recorded for a plugin.
func (r *Registry) Metadata(name string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Metadata{}, false
	}
	return e.Meta, true
}

// Names returns the registered API names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// catalogueEntry is the on-disk plugin.json shape.
type catalogueEntry struct {
	Name    string `json:"name"`
	Author  string `json:"author"`
	Version string `json:"version"`
}

// LoadDir scans the plugin installation directory for catalogue entries.
// Each subdirectory with a plugin.json contributes metadata for the
// handler registered under the same name; a module.js next to it marks a
// client module. Entries without a registered handler are logged and
// skipped — with static registration there is nothing to call. A missing
// directory is not an error.
func (r *Registry) LoadDir(dir string) error {
	items, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read plugin directory: %w", err)
	}

	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		manifest := filepath.Join(dir, item.Name(), "plugin.json")
		raw, err := os.ReadFile(manifest)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", manifest, err)
		}

		var entry catalogueEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("invalid plugin manifest %s: %w", manifest, err)
		}
		if entry.Name == "" {
			entry.Name = item.Name()
		}

		r.mu.Lock()
		registered, ok := r.entries[entry.Name]
		if !ok {
			r.mu.Unlock()
			logging.Warn("Plugin catalogue entry has no registered handler",
				zap.String("plugin", entry.Name),
				zap.String("dir", dir),
			)
			continue
		}
		registered.Meta.Author = entry.Author
		registered.Meta.Version = entry.Version
		if _, err := os.Stat(filepath.Join(dir, item.Name(), "module.js")); err == nil {
			registered.Meta.HasModule = true
		}
		r.mu.Unlock()

		logging.Debug("Plugin metadata loaded",
			zap.String("plugin", entry.Name),
			zap.String("version", entry.Version),
		)
	}
	return nil
}
