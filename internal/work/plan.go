package work

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultCount is the number of execution contexts spawned per run.
const DefaultCount = 2

// Plan describes a run loaded from a YAML file.
//
//	backend: inproc
//	count: 2
//	unit:
//	  name: sleep42
//	  sleep: 100ms
//	  value: 42
type Plan struct {
	Backend string `yaml:"backend,omitempty"`
	Count   int    `yaml:"count,omitempty"`
	Unit    Unit   `yaml:"unit"`
}

// DefaultPlan returns the canonical two-handle plan. Backend is left empty so
// the configured default applies.
func DefaultPlan() Plan {
	return Plan{Count: DefaultCount, Unit: Default()}
}

// LoadPlan reads a plan from path. Missing fields fall back to DefaultPlan.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan %s: %w", path, err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a YAML plan, applying defaults for omitted fields.
func ParsePlan(data []byte) (Plan, error) {
	p := DefaultPlan()

	var raw struct {
		Backend string `yaml:"backend"`
		Count   *int   `yaml:"count"`
		Unit    *Unit  `yaml:"unit"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}

	p.Backend = raw.Backend
	if raw.Count != nil {
		p.Count = *raw.Count
	}
	if raw.Unit != nil {
		p.Unit = *raw.Unit
	}
	if p.Unit.Name == "" {
		p.Unit.Name = DefaultName
	}

	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Validate reports whether the plan can be launched.
func (p Plan) Validate() error {
	if p.Count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", p.Count)
	}
	return p.Unit.Validate()
}
