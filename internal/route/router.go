// Package route selects which deployment tier serves a request. The default
// deployment runs everything locally; cloud and edge tiers exist so a
// degraded local backend can be routed around once remote tiers are wired.
package route

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voiceforge/voiceforge/pkg/models"
)

// Tier identifies a deployment target.
type Tier string

const (
	TierLocal Tier = "local"
	TierCloud Tier = "cloud"
	TierEdge  Tier = "edge"
)

// Backend is one routable deployment tier.
type Backend struct {
	Tier      Tier      `json:"tier"`
	Healthy   bool      `json:"healthy"`
	Endpoint  string    `json:"endpoint,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// Router keeps the per-tier health table and the capability-to-model
// defaults. Thread-safe.
type Router struct {
	mu        sync.RWMutex
	backends  map[Tier]*Backend
	defaults  map[models.Capability]string
	overrides map[models.Capability]map[string]string // capability → requirement → backend
}

// New creates a router with the local tier marked healthy and the remote
// tiers present but unhealthy until something reports otherwise.
func New() *Router {
	return &Router{
		backends: map[Tier]*Backend{
			TierLocal: {Tier: TierLocal, Healthy: true, CheckedAt: time.Now().UTC()},
			TierCloud: {Tier: TierCloud},
			TierEdge:  {Tier: TierEdge},
		},
		defaults: map[models.Capability]string{
			models.CapabilityASR: "sensevoice",
			models.CapabilityTTS: "cosyvoice",
			models.CapabilityLLM: "gemma3:4b",
		},
		overrides: make(map[models.Capability]map[string]string),
	}
}

// Route picks the tier for a request: local when healthy, otherwise the
// first healthy remote tier, otherwise local anyway so the caller gets the
// backend's own error.
func (r *Router) Route() Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.backends[TierLocal].Healthy {
		return TierLocal
	}
	for _, tier := range []Tier{TierCloud, TierEdge} {
		if b, ok := r.backends[tier]; ok && b.Healthy {
			log.Warn().Str("tier", string(tier)).Msg("Local backend unhealthy, routing remote")
			return tier
		}
	}
	return TierLocal
}

// Model-selection requirements. A single backend per capability serves all
// three today; the requirement picks between tiers once more than one is
// registered.
const (
	RequireSpeed    = "speed"
	RequireQuality  = "quality"
	RequireBalanced = "balanced"
)

// SelectModel returns the backend name for a capability under the given
// requirement. An empty requirement means balanced.
func (r *Router) SelectModel(cap models.Capability, requirement string) string {
	if requirement == "" {
		requirement = RequireBalanced
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if byReq, ok := r.overrides[cap]; ok {
		if name, ok := byReq[requirement]; ok {
			return name
		}
	}
	return r.defaults[cap]
}

// SetRequirementModel binds a backend to a (capability, requirement) pair so
// SelectModel can differentiate tiers.
func (r *Router) SetRequirementModel(cap models.Capability, requirement, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overrides[cap] == nil {
		r.overrides[cap] = make(map[string]string)
	}
	r.overrides[cap][requirement] = name
}

// SetDefault overrides the default backend for a capability.
func (r *Router) SetDefault(cap models.Capability, name string) {
	r.mu.Lock()
	r.defaults[cap] = name
	r.mu.Unlock()
}

// UpdateBackend records a health observation for a tier.
func (r *Router) UpdateBackend(tier Tier, healthy bool, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[tier]
	if !ok {
		b = &Backend{Tier: tier}
		r.backends[tier] = b
	}
	b.Healthy = healthy
	if endpoint != "" {
		b.Endpoint = endpoint
	}
	b.CheckedAt = time.Now().UTC()
}

// Health returns a snapshot of every tier's state.
func (r *Router) Health() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Backend, 0, len(r.backends))
	for _, tier := range []Tier{TierLocal, TierCloud, TierEdge} {
		if b, ok := r.backends[tier]; ok {
			out = append(out, *b)
		}
	}
	return out
}
