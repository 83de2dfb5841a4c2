// Package capabilities holds the static table of agent types and their
// specialization profiles. The table is loaded once at startup and never
// mutated; a missing agent type is a configuration error, not a runtime
// fault to be retried.
package capabilities

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var ErrUnknownAgentType = errors.New("unknown agent type")

// AgentCapability describes what a single agent type is good at.
// ComplexityHandling and CoordinationLevel are on a 0-10 scale.
type AgentCapability struct {
	Name               string   `yaml:"name"`
	Specializations    []string `yaml:"specializations"`
	ComplexityHandling float64  `yaml:"complexity_handling"`
	CoordinationLevel  float64  `yaml:"coordination_level"`
}

// HasSpecialization reports whether tag is one of the capability's
// specialization tags.
func (c AgentCapability) HasSpecialization(tag string) bool {
	for _, s := range c.Specializations {
		if s == tag {
			return true
		}
	}
	return false
}

// Registry is a read-only lookup of agent capabilities.
type Registry struct {
	byName map[string]AgentCapability
	order  []string
}

// defaultCapabilities mirrors the built-in agent roster. Scores are
// hand-tuned, not learned; they only need to be stable and comparable.
func defaultCapabilities() []AgentCapability {
	return []AgentCapability{
		{Name: "coder", Specializations: []string{"implement", "code", "develop", "build", "fix"}, ComplexityHandling: 8.0, CoordinationLevel: 5.0},
		{Name: "reviewer", Specializations: []string{"review", "audit", "inspect", "verify"}, ComplexityHandling: 7.0, CoordinationLevel: 6.0},
		{Name: "tester", Specializations: []string{"test", "validate", "qa", "regression"}, ComplexityHandling: 6.0, CoordinationLevel: 5.0},
		{Name: "researcher", Specializations: []string{"research", "investigate", "analyze", "explore"}, ComplexityHandling: 7.5, CoordinationLevel: 4.0},
		{Name: "architect", Specializations: []string{"design", "architect", "plan", "structure"}, ComplexityHandling: 9.0, CoordinationLevel: 8.0},
		{Name: "documenter", Specializations: []string{"document", "describe", "explain", "summarize"}, ComplexityHandling: 5.0, CoordinationLevel: 4.0},
		{Name: "optimizer", Specializations: []string{"optimize", "profile", "benchmark", "tune"}, ComplexityHandling: 8.5, CoordinationLevel: 5.0},
		{Name: "coordinator", Specializations: []string{"coordinate", "orchestrate", "manage", "delegate"}, ComplexityHandling: 6.5, CoordinationLevel: 9.5},
	}
}

// NewRegistry builds a registry from the default agent roster.
func NewRegistry() *Registry {
	return newFromList(defaultCapabilities())
}

// NewRegistryFromFile loads the roster from a YAML file. The file fully
// replaces the defaults; partial overrides are not supported to keep the
// table's provenance unambiguous.
func NewRegistryFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capabilities config: %w", err)
	}
	var doc struct {
		Agents []AgentCapability `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities config: %w", err)
	}
	if len(doc.Agents) == 0 {
		return nil, fmt.Errorf("capabilities config %s defines no agents", path)
	}
	for _, a := range doc.Agents {
		if a.Name == "" {
			return nil, fmt.Errorf("capabilities config %s contains an unnamed agent", path)
		}
		if a.ComplexityHandling < 0 || a.ComplexityHandling > 10 {
			return nil, fmt.Errorf("agent %q: complexity_handling must be in [0,10]", a.Name)
		}
		if a.CoordinationLevel < 0 || a.CoordinationLevel > 10 {
			return nil, fmt.Errorf("agent %q: coordination_level must be in [0,10]", a.Name)
		}
	}
	return newFromList(doc.Agents), nil
}

func newFromList(list []AgentCapability) *Registry {
	r := &Registry{byName: make(map[string]AgentCapability, len(list))}
	for _, c := range list {
		if _, dup := r.byName[c.Name]; dup {
			continue
		}
		r.byName[c.Name] = c
		r.order = append(r.order, c.Name)
	}
	return r
}

// Get returns the capability for an agent type.
func (r *Registry) Get(name string) (AgentCapability, error) {
	c, ok := r.byName[name]
	if !ok {
		return AgentCapability{}, fmt.Errorf("%w: %q", ErrUnknownAgentType, name)
	}
	return c, nil
}

// Names returns all registered agent type names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Sorted returns all capabilities ordered by name, for stable diagnostics.
func (r *Registry) Sorted() []AgentCapability {
	out := make([]AgentCapability, 0, len(r.byName))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
