package oversight

import (
	"errors"
	"fmt"

	"github.com/havenline/triage/pkg/contracts"
)

var (
	// ErrUnknownExpert is returned for operations on an unregistered expert.
	ErrUnknownExpert = errors.New("unknown expert")
	// ErrUnknownCase is returned for operations on an unknown case id.
	ErrUnknownCase = errors.New("unknown oversight case")
)

// Expert-matching weights: expertise overlap dominates, then track
// record, then current headroom, then raw experience.
const (
	matchWeightExpertise   = 0.4
	matchWeightAccuracy    = 0.3
	matchWeightUtilization = 0.2
	matchWeightExperience  = 0.1
)

// RegisterExpert adds (or replaces) an expert profile.
func (m *Manager) RegisterExpert(profile contracts.ExpertProfile) error {
	if profile.ID == "" {
		return errors.New("expert id must not be empty")
	}
	if profile.Availability.MaxConcurrentCases <= 0 {
		return fmt.Errorf("expert %q must allow at least one concurrent case", profile.ID)
	}
	m.mu.Lock()
	p := profile
	m.experts[profile.ID] = &p
	m.mu.Unlock()
	return nil
}

// SetExpertStatus updates an expert's availability status.
func (m *Manager) SetExpertStatus(expertID string, status contracts.AvailabilityStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	expert, ok := m.experts[expertID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExpert, expertID)
	}
	expert.Availability.Status = status
	return nil
}

// Expert returns a copy of an expert's profile.
func (m *Manager) Expert(expertID string) (contracts.ExpertProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expert, ok := m.experts[expertID]
	if !ok {
		return contracts.ExpertProfile{}, fmt.Errorf("%w: %s", ErrUnknownExpert, expertID)
	}
	return *expert, nil
}

// matchScore ranks an expert for a case. Callers hold m.mu.
func matchScore(expert *contracts.ExpertProfile, c *contracts.OversightCase) float64 {
	overlap := 1.0
	if len(c.RequiredExpertise) > 0 {
		matched := 0
		for _, req := range c.RequiredExpertise {
			for _, have := range expert.Expertise {
				if req == have {
					matched++
					break
				}
			}
		}
		overlap = float64(matched) / float64(len(c.RequiredExpertise))
	}
	utilization := float64(expert.Availability.CurrentCases) / float64(expert.Availability.MaxConcurrentCases)
	experience := float64(expert.Performance.CasesHandled) / 1000
	if experience > 1 {
		experience = 1
	}
	return matchWeightExpertise*overlap +
		matchWeightAccuracy*expert.Performance.AccuracyRate +
		matchWeightUtilization*(1-utilization) +
		matchWeightExperience*experience
}

// assignLocked assigns the best-matching available expert to the case,
// atomically with the capacity check, and removes it from the queue.
// Returns false when no expert has headroom. Callers hold m.mu.
func (m *Manager) assignLocked(c *contracts.OversightCase) bool {
	var best *contracts.ExpertProfile
	var bestScore float64
	for _, expert := range m.experts {
		if expert.Availability.Status != contracts.ExpertAvailable {
			continue
		}
		if expert.Availability.CurrentCases >= expert.Availability.MaxConcurrentCases {
			continue
		}
		if score := matchScore(expert, c); best == nil || score > bestScore {
			best, bestScore = expert, score
		}
	}
	if best == nil {
		return false
	}

	best.Availability.CurrentCases++
	if best.Availability.CurrentCases >= best.Availability.MaxConcurrentCases {
		best.Availability.Status = contracts.ExpertBusy
	}
	now := m.clock()
	c.Status = contracts.CaseAssigned
	c.AssignedTo = best.ID
	c.AssignedAt = &now
	m.queue.remove(c.ID)
	return true
}

// releaseLocked frees one slot on an expert after resolution. Callers
// hold m.mu.
func (m *Manager) releaseLocked(expertID string) {
	expert, ok := m.experts[expertID]
	if !ok {
		return
	}
	if expert.Availability.CurrentCases > 0 {
		expert.Availability.CurrentCases--
	}
	if expert.Availability.Status == contracts.ExpertBusy &&
		expert.Availability.CurrentCases < expert.Availability.MaxConcurrentCases {
		expert.Availability.Status = contracts.ExpertAvailable
	}
}

// Dispatch assigns queued cases to whatever expert capacity is free,
// highest priority first. It returns the number of cases assigned.
func (m *Manager) Dispatch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatchLocked()
}

func (m *Manager) dispatchLocked() int {
	assigned := 0
	for {
		next := m.queue.peek()
		if next == nil {
			return assigned
		}
		if !m.assignLocked(next) {
			return assigned
		}
		assigned++
	}
}
