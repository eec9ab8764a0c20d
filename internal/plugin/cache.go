package plugin

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voiceforge/voiceforge/pkg/contracts"
	"github.com/voiceforge/voiceforge/pkg/models"
)

// Cache holds loaded plugin instances keyed by "capability:name". It owns
// instance lifecycle: creation through the registry factory, Load on first
// use, Cleanup on unload. Thread-safe.
type Cache struct {
	registry *Registry

	mu        sync.Mutex
	instances map[string]contracts.Plugin
}

// NewCache creates an empty instance cache backed by the registry.
func NewCache(registry *Registry) *Cache {
	return &Cache{
		registry:  registry,
		instances: make(map[string]contracts.Plugin),
	}
}

func key(cap models.Capability, name string) string {
	return string(cap) + ":" + name
}

// GetOrLoad returns the loaded instance for a capability and name, creating
// and loading it on first use. Repeated calls return the cached instance
// without reloading. A failed Load is not cached, so a later call retries.
func (c *Cache) GetOrLoad(ctx context.Context, cap models.Capability, name string, cfg map[string]interface{}) (contracts.Plugin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(cap, name)
	if inst, ok := c.instances[k]; ok {
		return inst, nil
	}

	factory, err := c.registry.Get(cap, name)
	if err != nil {
		return nil, err
	}

	inst := factory(cfg)
	if !inst.Load(ctx, cfg) {
		return nil, &LoadError{Capability: cap, Name: name}
	}

	c.instances[k] = inst
	log.Info().Str("capability", string(cap)).Str("name", name).Msg("✅ Plugin loaded")
	return inst, nil
}

// Get returns the cached instance, or a NotRegisteredError if it was never
// loaded.
func (c *Cache) Get(cap models.Capability, name string) (contracts.Plugin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[key(cap, name)]
	if !ok {
		return nil, &NotRegisteredError{Capability: cap, Name: name}
	}
	return inst, nil
}

// Loaded reports whether an instance is cached for the capability and name.
func (c *Cache) Loaded(cap models.Capability, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.instances[key(cap, name)]
	return ok
}

// Unload removes the instance and releases its resources. Unloading an
// unknown instance is a no-op.
func (c *Cache) Unload(cap models.Capability, name string) {
	c.mu.Lock()
	inst, ok := c.instances[key(cap, name)]
	if ok {
		delete(c.instances, key(cap, name))
	}
	c.mu.Unlock()

	if ok {
		inst.Cleanup()
		log.Info().Str("capability", string(cap)).Str("name", name).Msg("Plugin unloaded")
	}
}

// UnloadAll releases every cached instance. Called on shutdown.
func (c *Cache) UnloadAll() {
	c.mu.Lock()
	instances := c.instances
	c.instances = make(map[string]contracts.Plugin)
	c.mu.Unlock()

	for k, inst := range instances {
		inst.Cleanup()
		log.Info().Str("plugin", k).Msg("Plugin unloaded")
	}
}

// List returns the keys of all cached instances.
func (c *Cache) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.instances))
	for k := range c.instances {
		keys = append(keys, k)
	}
	return keys
}
