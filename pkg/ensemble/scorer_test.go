package ensemble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubModel returns a fixed score, optionally failing or stalling.
type stubModel struct {
	name    string
	weight  float64
	score   Score
	err     error
	stall   time.Duration
	version string
}

func (m *stubModel) Name() string { return m.name }
func (m *stubModel) Version() string {
	if m.version == "" {
		return "1.0.0"
	}
	return m.version
}
func (m *stubModel) Weight() float64 { return m.weight }

func (m *stubModel) Analyze(ctx context.Context, text, lang string) (Score, error) {
	if m.stall > 0 {
		select {
		case <-time.After(m.stall):
		case <-ctx.Done():
			return Score{}, ctx.Err()
		}
	}
	return m.score, m.err
}

func newTestScorer(t *testing.T, models ...Model) *Scorer {
	t.Helper()
	reg := NewRegistry()
	for _, m := range models {
		require.NoError(t, reg.Register(m))
	}
	return NewScorer(reg, nil)
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.Register(&stubModel{name: "", weight: 1}))
	assert.Error(t, reg.Register(&stubModel{name: "bad-version", weight: 1, version: "not-semver"}))
	assert.Error(t, reg.Register(&stubModel{name: "zero-weight", weight: 0}))

	require.NoError(t, reg.Register(&stubModel{name: "ok", weight: 1}))
	assert.Error(t, reg.Register(&stubModel{name: "ok", weight: 1}), "duplicate name")
}

func TestWeightNormalizedAverage(t *testing.T) {
	s := newTestScorer(t,
		&stubModel{name: "a", weight: 3, score: Score{Score: 0.9, Confidence: 0.8, Categories: []string{"toxicity"}}},
		&stubModel{name: "b", weight: 1, score: Score{Score: 0.1, Confidence: 0.4, Categories: []string{"spam"}}},
	)

	combined, err := s.ScoreAll(context.Background(), "text", "en")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, combined.Score, 1e-9)      // (0.9*3 + 0.1*1)/4
	assert.InDelta(t, 0.7, combined.Confidence, 1e-9) // (0.8*3 + 0.4*1)/4
	assert.Equal(t, []string{"spam", "toxicity"}, combined.Categories)
	assert.Len(t, combined.Votes, 2)
}

func TestFailedModelExcludedNotFatal(t *testing.T) {
	s := newTestScorer(t,
		&stubModel{name: "good", weight: 1, score: Score{Score: 0.6, Confidence: 0.9}},
		&stubModel{name: "broken", weight: 9, err: errors.New("backend down")},
	)

	combined, err := s.ScoreAll(context.Background(), "text", "en")
	require.NoError(t, err)
	// The broken model's weight must not drag the average.
	assert.InDelta(t, 0.6, combined.Score, 1e-9)
	require.Len(t, combined.Votes, 2)
	for _, v := range combined.Votes {
		if v.Model == "broken" {
			assert.NotEmpty(t, v.Error)
		}
	}
}

func TestAllModelsFailedIsLoud(t *testing.T) {
	s := newTestScorer(t,
		&stubModel{name: "x", weight: 1, err: errors.New("boom")},
		&stubModel{name: "y", weight: 1, err: errors.New("bang")},
	)

	_, err := s.ScoreAll(context.Background(), "text", "en")
	assert.ErrorIs(t, err, ErrAllModelsFailed)
}

func TestModelTimeoutExcludesStalledModel(t *testing.T) {
	s := newTestScorer(t,
		&stubModel{name: "fast", weight: 1, score: Score{Score: 0.4, Confidence: 0.7}},
		&stubModel{name: "slow", weight: 1, stall: time.Second, score: Score{Score: 1, Confidence: 1}},
	).WithModelTimeout(20 * time.Millisecond)

	combined, err := s.ScoreAll(context.Background(), "text", "en")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, combined.Score, 1e-9)
}

func TestPrimaryModePicksHighestWeight(t *testing.T) {
	s := newTestScorer(t,
		&stubModel{name: "minor", weight: 1, score: Score{Score: 0.9, Confidence: 0.9}},
		&stubModel{name: "major", weight: 5, score: Score{Score: 0.2, Confidence: 0.8}},
	)

	combined, err := s.ScorePrimary(context.Background(), "text", "en")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, combined.Score, 1e-9)
	require.Len(t, combined.Votes, 1)
	assert.Equal(t, "major", combined.Votes[0].Model)
}

func TestPrimaryFailureIsLoud(t *testing.T) {
	s := newTestScorer(t, &stubModel{name: "only", weight: 1, err: errors.New("down")})

	_, err := s.ScorePrimary(context.Background(), "text", "en")
	assert.ErrorIs(t, err, ErrAllModelsFailed)
}

func TestEmptyRegistry(t *testing.T) {
	s := NewScorer(NewRegistry(), nil)
	_, err := s.ScoreAll(context.Background(), "text", "en")
	assert.ErrorIs(t, err, ErrNoModels)
	_, err = s.ScorePrimary(context.Background(), "text", "en")
	assert.ErrorIs(t, err, ErrNoModels)
}

func TestBuiltinModelsAreDeterministic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewToxicityModel()))
	require.NoError(t, reg.Register(NewPatternModel()))
	require.NoError(t, reg.Register(NewSignalModel()))
	s := NewScorer(reg, nil)

	first, err := s.ScoreAll(context.Background(), "I want to die, everyone says I'm worthless", "en")
	require.NoError(t, err)
	second, err := s.ScoreAll(context.Background(), "I want to die, everyone says I'm worthless", "en")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Greater(t, first.Score, 0.2)
	assert.Contains(t, first.Categories, "self_harm")
}
