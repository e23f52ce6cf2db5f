package provider

import (
	"sort"
	"sync"

	logger "github.com/paseohq/paseod/internal/logging"
)

// Descriptor describes one registered provider for the `agent.types`/
// `list_provider_models` surface (spec §6.2).
type Descriptor struct {
	ID           Tag      `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Command      string   `json:"command"`
	Modes        []string `json:"modes,omitempty"`
	Enabled      bool     `json:"enabled"`
}

// Registry is a lookup table of provider descriptors and their Factory,
// grounded on the teacher's Registry/LoadDefaults pattern, generalized from
// Docker-image-keyed agent types to CLI-subprocess-keyed provider
// descriptors.
type Registry struct {
	mu      sync.RWMutex
	entries map[Tag]Descriptor
	factory map[Tag]Factory
	logger  *logger.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		entries: make(map[Tag]Descriptor),
		factory: make(map[Tag]Factory),
		logger:  log,
	}
}

// Register associates a Descriptor and Factory with a provider tag.
func (r *Registry) Register(desc Descriptor, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[desc.ID] = desc
	r.factory[desc.ID] = f
}

// List returns every registered descriptor, sorted by tag.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Factory returns the Factory registered for tag, or false if unknown or
// disabled.
func (r *Registry) Factory(tag Tag) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.entries[tag]
	if !ok || !desc.Enabled {
		return nil, false
	}
	f, ok := r.factory[tag]
	return f, ok
}
