// Package plugin provides a registry for AI and rendering providers (STT,
// TTS, LLM, renderer) so commands can select implementations by name
// without importing each provider package directly.
package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Provider kinds understood by the registry.
const (
	KindSTT      = "stt"
	KindTTS      = "tts"
	KindLLM      = "llm"
	KindRenderer = "renderer"
)

// Factory creates a provider instance from configuration. The returned
// value is cast by the caller to the appropriate provider type
// (stt.STT, tts.TTS, llm.LLM, or avatar.Renderer).
type Factory func(cfg map[string]any) (any, error)

// Plugin is one registered provider with its metadata.
type Plugin struct {
	Kind        string         // one of the Kind constants
	Name        string         // provider name (e.g. "azure", "fake")
	Factory     Factory        // factory function to create instances
	Description string         // human-readable description
	Version     string         // provider version
	Config      map[string]any // configuration keys and defaults
}

// Registry manages provider registration and lookup. The zero value is
// ready to use.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin // [kind][name] -> Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]map[string]*Plugin)}
}

var globalRegistry = NewRegistry()

// Register adds a provider to the global registry. Typically called from
// init() in provider packages. Panics on duplicate kind/name.
func Register(kind, name string, factory Factory) {
	globalRegistry.Register(kind, name, factory)
}

// RegisterWithMetadata adds a provider with metadata to the global
// registry. Panics on duplicate kind/name.
func RegisterWithMetadata(plugin *Plugin) {
	globalRegistry.RegisterWithMetadata(plugin)
}

// Get retrieves a provider factory from the global registry.
func Get(kind, name string) (Factory, bool) {
	return globalRegistry.Get(kind, name)
}

// List returns all globally registered providers of a kind. An empty
// kind returns everything.
func List(kind string) []*Plugin {
	return globalRegistry.List(kind)
}

// ListKinds returns all globally registered provider kinds.
func ListKinds() []string {
	return globalRegistry.ListKinds()
}

// Register adds a provider to this registry. Panics on duplicate
// kind/name.
func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{Kind: kind, Name: name, Factory: factory})
}

// RegisterWithMetadata adds a provider with metadata to this registry.
// Panics on duplicate kind/name.
func (r *Registry) RegisterWithMetadata(plugin *Plugin) {
	if plugin.Kind == "" {
		panic("plugin kind cannot be empty")
	}
	if plugin.Name == "" {
		panic("plugin name cannot be empty")
	}
	if plugin.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins == nil {
		r.plugins = make(map[string]map[string]*Plugin)
	}
	if r.plugins[plugin.Kind] == nil {
		r.plugins[plugin.Kind] = make(map[string]*Plugin)
	}

	if existing, exists := r.plugins[plugin.Kind][plugin.Name]; exists {
		panic(fmt.Sprintf("plugin %s/%s already registered (existing version: %s, new version: %s)",
			plugin.Kind, plugin.Name, existing.Version, plugin.Version))
	}

	r.plugins[plugin.Kind][plugin.Name] = plugin
}

// Get retrieves a provider factory from this registry.
func (r *Registry) Get(kind, name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kindMap, exists := r.plugins[kind]
	if !exists {
		return nil, false
	}
	plugin, exists := kindMap[name]
	if !exists {
		return nil, false
	}
	return plugin.Factory, true
}

// List returns all registered providers of a kind, sorted by kind then
// name. An empty kind returns everything.
func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var plugins []*Plugin
	if kind == "" {
		for _, kindMap := range r.plugins {
			for _, plugin := range kindMap {
				plugins = append(plugins, plugin)
			}
		}
	} else if kindMap, exists := r.plugins[kind]; exists {
		for _, plugin := range kindMap {
			plugins = append(plugins, plugin)
		}
	}

	sort.Slice(plugins, func(i, j int) bool {
		if plugins[i].Kind != plugins[j].Kind {
			return plugins[i].Kind < plugins[j].Kind
		}
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// ListKinds returns all registered provider kinds in sorted order.
func (r *Registry) ListKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.plugins))
	for kind := range r.plugins {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Clear removes all providers from this registry. Primarily useful for
// tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]map[string]*Plugin)
}
