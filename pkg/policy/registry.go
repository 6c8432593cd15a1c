package policy

import "sync"

// Registry is the process-wide tool_name → ToolProfile mapping. It is
// read-mostly: registration happens at startup, lookups on every proposal.
// Construct one explicitly and wire it into every Proposer/Verifier; there
// is no ambient default.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]ToolProfile
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]ToolProfile)}
}

// Register stores the profile, replacing any existing one for the same
// tool name. Idempotent.
func (r *Registry) Register(profile ToolProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.ToolName] = profile
}

// Get returns the profile for a tool name.
func (r *Registry) Get(toolName string) (ToolProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[toolName]
	return p, ok
}

// GetOrDefault returns the registered profile, or a MEDIUM-criticality
// default for unknown tools.
func (r *Registry) GetOrDefault(toolName string) ToolProfile {
	if p, ok := r.Get(toolName); ok {
		return p
	}
	return ToolProfile{ToolName: toolName, Criticality: CriticalityMedium}
}

// All returns a snapshot of the registered profiles.
func (r *Registry) All() []ToolProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}
