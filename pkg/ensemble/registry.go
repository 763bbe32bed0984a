// Package ensemble runs a weighted set of independent scoring models over
// the same text and combines their votes into a single risk/confidence
// pair. Models are registered once at startup; scoring fans out
// concurrently and a single model failure never fails the request.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrNoModels is returned when scoring is attempted with an empty registry.
	ErrNoModels = errors.New("no models registered")
	// ErrAllModelsFailed is returned when every model in the ensemble failed.
	// A safety pipeline must fail loudly here, never return an empty success.
	ErrAllModelsFailed = errors.New("all ensemble models failed")
)

// Score is a single model's verdict on a piece of text.
type Score struct {
	Score      float64  // [0,1] risk
	Confidence float64  // [0,1]
	Categories []string // content categories the model flagged
}

// Model is one scoring model in the ensemble.
type Model interface {
	Name() string
	Version() string // semantic version
	Weight() float64 // relative vote weight, > 0
	Analyze(ctx context.Context, text, lang string) (Score, error)
}

// Registry holds the registered models. Registration happens during
// startup; reads afterwards are lock-cheap.
type Registry struct {
	mu     sync.RWMutex
	models []Model
	byName map[string]Model
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Model)}
}

// Register adds a model. Names must be unique, versions must parse as
// semantic versions, and weights must be positive.
func (r *Registry) Register(m Model) error {
	if m.Name() == "" {
		return errors.New("model name must not be empty")
	}
	if _, err := semver.NewVersion(m.Version()); err != nil {
		return fmt.Errorf("model %q version %q: %w", m.Name(), m.Version(), err)
	}
	if m.Weight() <= 0 {
		return fmt.Errorf("model %q weight must be positive, got %v", m.Name(), m.Weight())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[m.Name()]; exists {
		return fmt.Errorf("model %q already registered", m.Name())
	}
	r.byName[m.Name()] = m
	r.models = append(r.models, m)
	// Keep a deterministic order: weight descending, then name.
	sort.SliceStable(r.models, func(i, j int) bool {
		if r.models[i].Weight() != r.models[j].Weight() {
			return r.models[i].Weight() > r.models[j].Weight()
		}
		return r.models[i].Name() < r.models[j].Name()
	})
	return nil
}

// Models returns the registered models, highest weight first.
func (r *Registry) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}

// Primary returns the highest-weighted model, used in single-model mode.
func (r *Registry) Primary() (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.models) == 0 {
		return nil, ErrNoModels
	}
	return r.models[0], nil
}

// Reweighted wraps a model with an operator-configured weight override.
// The wrapped model keeps its name, version and scoring behavior.
func Reweighted(m Model, weight float64) Model {
	return &reweighted{Model: m, weight: weight}
}

type reweighted struct {
	Model
	weight float64
}

func (r *reweighted) Weight() float64 { return r.weight }

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
