package plugin

import (
	"fmt"

	"github.com/voiceforge/voiceforge/pkg/models"
)

// UnknownCapabilityError reports a capability kind outside asr/tts/llm.
type UnknownCapabilityError struct {
	Capability models.Capability
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability: %s", e.Capability)
}

// NotRegisteredError reports a lookup for a backend nobody registered.
type NotRegisteredError struct {
	Capability models.Capability
	Name       string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("plugin not registered: %s:%s", e.Capability, e.Name)
}

// LoadError reports a backend whose Load returned false.
type LoadError struct {
	Capability models.Capability
	Name       string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin failed to load: %s:%s", e.Capability, e.Name)
}
