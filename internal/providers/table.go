// Package providers holds the static capability table for upstream model
// providers and the pure scoring used to rank them against a request's
// requirement vector. Scoring is deterministic: same inputs, same ranking.
package providers

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var ErrUnknownProvider = errors.New("unknown provider")

// ModelCapabilities scores one provider on a 0-10 scale per dimension.
// Cost is an expense score: higher means more expensive.
type ModelCapabilities struct {
	Name       string  `yaml:"name"`
	Reasoning  float64 `yaml:"reasoning"`
	Coding     float64 `yaml:"coding"`
	Analysis   float64 `yaml:"analysis"`
	Creativity float64 `yaml:"creativity"`
	Speed      float64 `yaml:"speed"`
	Cost       float64 `yaml:"cost"`
}

// RequirementVector weights the four quality dimensions of a request.
type RequirementVector struct {
	Reasoning  float64
	Coding     float64
	Analysis   float64
	Creativity float64
}

// Constraints filter candidates before scoring.
type Constraints struct {
	ExcludeProviders []string
	MaxCost          float64 // 0 means unconstrained
	MinSpeed         float64
}

// Preferences bias the speed and cost terms of the score.
type Preferences struct {
	OptimizeCost    bool
	PrioritizeSpeed bool
}

// Weight constants for the speed/cost terms. Cost weights are negative
// so that cheaper providers score higher.
const (
	speedWeightDefault    = 0.5
	speedWeightPrioritize = 2.0
	costWeightDefault     = -0.5
	costWeightOptimize    = -2.0
)

func (p Preferences) speedWeight() float64 {
	if p.PrioritizeSpeed {
		return speedWeightPrioritize
	}
	return speedWeightDefault
}

func (p Preferences) costWeight() float64 {
	if p.OptimizeCost {
		return costWeightOptimize
	}
	return costWeightDefault
}

// Score computes the ranking score of a provider for a requirement vector.
// Pure function; no table or orchestration state involved.
func Score(caps ModelCapabilities, req RequirementVector, prefs Preferences) float64 {
	dot := req.Reasoning*caps.Reasoning +
		req.Coding*caps.Coding +
		req.Analysis*caps.Analysis +
		req.Creativity*caps.Creativity
	return dot + caps.Speed*prefs.speedWeight() + caps.Cost*prefs.costWeight()
}

// Table is a read-only, ordered provider capability table. Order is
// significant: ties in score keep the earlier entry.
type Table struct {
	entries []ModelCapabilities
	byName  map[string]ModelCapabilities
}

func defaultEntries() []ModelCapabilities {
	return []ModelCapabilities{
		{Name: "anthropic", Reasoning: 9.5, Coding: 9.0, Analysis: 9.0, Creativity: 8.5, Speed: 6.0, Cost: 7.5},
		{Name: "openai", Reasoning: 9.0, Coding: 8.5, Analysis: 8.5, Creativity: 8.0, Speed: 7.0, Cost: 7.0},
		{Name: "google", Reasoning: 8.5, Coding: 8.0, Analysis: 8.5, Creativity: 7.5, Speed: 7.5, Cost: 5.0},
		{Name: "deepseek", Reasoning: 8.0, Coding: 8.5, Analysis: 7.5, Creativity: 6.5, Speed: 6.5, Cost: 2.0},
		{Name: "groq", Reasoning: 7.0, Coding: 7.0, Analysis: 6.5, Creativity: 6.0, Speed: 9.5, Cost: 3.0},
		{Name: "mistral", Reasoning: 7.5, Coding: 7.5, Analysis: 7.0, Creativity: 7.0, Speed: 8.0, Cost: 3.5},
	}
}

// NewTable builds the default provider table.
func NewTable() *Table {
	return newTable(defaultEntries())
}

// NewTableFromFile loads the table from a YAML file, replacing the defaults.
// Entry order in the file becomes the tie-break order.
func NewTableFromFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider table: %w", err)
	}
	var doc struct {
		Providers []ModelCapabilities `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal provider table: %w", err)
	}
	if len(doc.Providers) == 0 {
		return nil, fmt.Errorf("provider table %s defines no providers", path)
	}
	for _, p := range doc.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider table %s contains an unnamed provider", path)
		}
	}
	return newTable(doc.Providers), nil
}

func newTable(entries []ModelCapabilities) *Table {
	t := &Table{byName: make(map[string]ModelCapabilities, len(entries))}
	for _, e := range entries {
		if _, dup := t.byName[e.Name]; dup {
			continue
		}
		t.entries = append(t.entries, e)
		t.byName[e.Name] = e
	}
	return t
}

// Get returns the capabilities for a provider name.
func (t *Table) Get(name string) (ModelCapabilities, error) {
	c, ok := t.byName[name]
	if !ok {
		return ModelCapabilities{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return c, nil
}

// Names returns provider names in table order.
func (t *Table) Names() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Name
	}
	return out
}

// Candidate pairs a provider with its computed score.
type Candidate struct {
	Provider ModelCapabilities
	Score    float64
}

// Rank filters the table by constraints and returns candidates in
// descending score order. The sort is stable over table order, so equal
// scores keep the first provider encountered.
func (t *Table) Rank(req RequirementVector, cons Constraints, prefs Preferences) []Candidate {
	excluded := make(map[string]bool, len(cons.ExcludeProviders))
	for _, name := range cons.ExcludeProviders {
		excluded[name] = true
	}

	var out []Candidate
	for _, e := range t.entries {
		if excluded[e.Name] {
			continue
		}
		if cons.MaxCost > 0 && e.Cost > cons.MaxCost {
			continue
		}
		if e.Speed < cons.MinSpeed {
			continue
		}
		out = append(out, Candidate{Provider: e, Score: Score(e, req, prefs)})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
