package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/havenline/triage/pkg/moderation"
	"github.com/havenline/triage/pkg/oversight"
)

// ModelWeights overrides the scoring weight of individual models by name.
// Weights must be positive; models absent from the map keep their
// built-in weight.
type ModelWeights map[string]float64

// QualitySampling configures random review of clean general content.
type QualitySampling struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Policy is the operator-tunable moderation policy.
type Policy struct {
	Thresholds   moderation.Thresholds   `yaml:"thresholds"`
	TriggerRules []oversight.TriggerRule `yaml:"trigger_rules"`
	ModelWeights ModelWeights            `yaml:"model_weights"`
	Sampling     QualitySampling         `yaml:"quality_sampling"`
}

// DefaultPolicy returns the reference policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Thresholds: moderation.DefaultThresholds(),
		Sampling:   QualitySampling{PerSecond: 0.01, Burst: 1},
	}
}

// LoadPolicy reads a policy YAML. Fields omitted from the file keep
// their defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("parse policy %q: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy %q: %w", path, err)
	}
	return policy, nil
}

// Validate checks the ordering and range constraints the engine relies on.
func (p *Policy) Validate() error {
	t := p.Thresholds
	if !(t.Emergency > t.Critical && t.Critical > t.High && t.High > t.Moderate) {
		return fmt.Errorf("severity thresholds must be strictly decreasing: emergency=%.2f critical=%.2f high=%.2f moderate=%.2f",
			t.Emergency, t.Critical, t.High, t.Moderate)
	}
	if t.Moderate <= 0 || t.Emergency > 1 {
		return fmt.Errorf("severity thresholds must fall in (0,1]")
	}
	if t.Block <= t.Flag {
		return fmt.Errorf("block threshold %.0f must exceed flag threshold %.0f", t.Block, t.Flag)
	}
	for name, w := range p.ModelWeights {
		if w <= 0 {
			return fmt.Errorf("model weight for %q must be positive, got %v", name, w)
		}
	}
	for _, r := range p.TriggerRules {
		if r.Name == "" {
			return fmt.Errorf("trigger rules must be named")
		}
		if r.Expression == "" {
			return fmt.Errorf("trigger rule %q has no expression", r.Name)
		}
	}
	if p.Sampling.PerSecond < 0 {
		return fmt.Errorf("quality sampling rate must not be negative")
	}
	return nil
}
