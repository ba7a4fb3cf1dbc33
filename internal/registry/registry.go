// Package registry holds the static catalogue of models the gateway can
// route to, used to answer the models-list endpoints (GET /v1beta/models,
// /v1/models, /models) and to validate an apiKey's restrictedModels / an
// account's supportedModels against a known name.
package registry

import "sync"

// ModelInfo describes one routable model for listing purposes.
type ModelInfo struct {
	ID          string   `json:"id"`
	Platform    string   `json:"platform"`
	DisplayName string   `json:"displayName,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
}

// Registry is a process-wide, mutex-guarded catalogue of known models. It is
// filled through Register and never removed from during request handling:
// a small in-memory map guarded by a single RWMutex rather than a database
// table for this low-cardinality, rarely-changing data.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelInfo
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{models: make(map[string]ModelInfo)}
}

// Register adds or replaces a model entry.
func (r *Registry) Register(m ModelInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
	for _, alias := range m.Aliases {
		if _, exists := r.models[alias]; !exists {
			r.models[alias] = m
		}
	}
}

// Get looks up a model by id or alias.
func (r *Registry) Get(id string) (ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// List returns every distinct registered model (deduplicated by canonical
// ID, so aliases don't produce duplicate list entries).
func (r *Registry) List() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.models))
	out := make([]ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// ForPlatform returns every model belonging to platform p.
func (r *Registry) ForPlatform(platform string) []ModelInfo {
	all := r.List()
	out := make([]ModelInfo, 0, len(all))
	for _, m := range all {
		if m.Platform == platform {
			out = append(out, m)
		}
	}
	return out
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the process-wide registry singleton. The catalogue is
// static reference data, so a shared instance is safe.
func Global() *Registry {
	globalOnce.Do(func() { global = New() })
	return global
}
