// Package plugin provides the capability-typed backend registry and the
// instance cache that manages backend lifecycles.
package plugin

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voiceforge/voiceforge/pkg/contracts"
	"github.com/voiceforge/voiceforge/pkg/models"
)

// Registry holds named plugin factories per capability. Thread-safe.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.Capability]map[string]contracts.Factory
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	factories := make(map[models.Capability]map[string]contracts.Factory)
	for _, cap := range models.Capabilities() {
		factories[cap] = make(map[string]contracts.Factory)
	}
	return &Registry{factories: factories}
}

// Register adds a factory under the given capability and name. Registering
// the same name twice overwrites the earlier factory.
func (r *Registry) Register(cap models.Capability, name string, factory contracts.Factory) error {
	if !cap.Valid() {
		return &UnknownCapabilityError{Capability: cap}
	}

	r.mu.Lock()
	_, replaced := r.factories[cap][name]
	r.factories[cap][name] = factory
	r.mu.Unlock()

	if replaced {
		log.Warn().Str("capability", string(cap)).Str("name", name).Msg("Plugin factory replaced")
	} else {
		log.Info().Str("capability", string(cap)).Str("name", name).Msg("Plugin factory registered")
	}
	return nil
}

// Get returns the factory for a capability and name.
func (r *Registry) Get(cap models.Capability, name string) (contracts.Factory, error) {
	if !cap.Valid() {
		return nil, &UnknownCapabilityError{Capability: cap}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[cap][name]
	if !ok {
		return nil, &NotRegisteredError{Capability: cap, Name: name}
	}
	return f, nil
}

// ListNames returns the registered backend names grouped by capability.
// With no arguments every capability is listed; otherwise only the given
// ones. Unknown capabilities are skipped.
func (r *Registry) ListNames(caps ...models.Capability) map[models.Capability][]string {
	if len(caps) == 0 {
		caps = models.Capabilities()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[models.Capability][]string, len(caps))
	for _, cap := range caps {
		byName, ok := r.factories[cap]
		if !ok {
			continue
		}
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		out[cap] = names
	}
	return out
}
