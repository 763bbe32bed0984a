package lexicon

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImmediateDangerTier(t *testing.T) {
	a := NewAnalyzer()

	res := a.AnalyzeKeywords("I have the pills and I'm taking them tonight", "en")
	require.True(t, res.Detected)
	assert.Equal(t, TierImmediate, res.Category)
	assert.Equal(t, 1.0, res.Severity)
	assert.Contains(t, res.MatchedTerms, "i have the pills")
}

func TestTierTiesPreferHigherTier(t *testing.T) {
	a := NewAnalyzer()

	// Matches both planning ("kill myself") and distress ("hopeless").
	res := a.AnalyzeKeywords("I feel hopeless and I want to kill myself", "en")
	require.True(t, res.Detected)
	assert.Equal(t, TierPlanning, res.Category)
	assert.Equal(t, 0.9, res.Severity)
}

func TestProtectiveFactorsReduceSeverity(t *testing.T) {
	a := NewAnalyzer()

	plain := a.AnalyzeKeywords("I want to die", "en")
	require.Equal(t, 0.5, plain.Severity)

	softened := a.AnalyzeKeywords("I want to die but my therapist is helping", "en")
	require.True(t, softened.Detected)
	assert.Len(t, softened.ProtectiveFactors, 2)
	assert.InDelta(t, 0.3, softened.Severity, 1e-9)
}

func TestProtectiveFloorNeverEliminatesDangerSignal(t *testing.T) {
	a := NewAnalyzer()

	// Pile on protective factors; the floor holds at 0.3.
	text := "I want to die but my therapist is helping, I'm getting help, " +
		"in treatment, my kids need me and looking forward to next week"
	res := a.AnalyzeKeywords(text, "en")
	require.True(t, res.Detected)
	assert.InDelta(t, 0.3, res.Severity, 1e-9)
}

func TestNoDangerNoDetection(t *testing.T) {
	a := NewAnalyzer()

	res := a.AnalyzeKeywords("I'm anxious about my presentation tomorrow, but my therapist is helping", "en")
	assert.False(t, res.Detected)
	assert.Zero(t, res.Severity)
	assert.Empty(t, res.ProtectiveFactors)
}

func TestSpanishPackAndFallback(t *testing.T) {
	a := NewAnalyzer()

	res := a.AnalyzeKeywords("tengo las pastillas", "es")
	require.True(t, res.Detected)
	assert.Equal(t, TierImmediate, res.Category)

	// Regional variants resolve to the base language.
	res = a.AnalyzeKeywords("quiero morir", "es-MX")
	assert.True(t, res.Detected)

	// Unknown languages fall back to English.
	res = a.AnalyzeKeywords("I want to die", "xx")
	assert.True(t, res.Detected)
}

func TestTierOverride(t *testing.T) {
	a := NewAnalyzer(WithTierPhrases("en", TierDistress, []string{"custom phrase"}))

	res := a.AnalyzeKeywords("a custom phrase appeared", "en")
	require.True(t, res.Detected)
	assert.Equal(t, TierDistress, res.Category)
}

func TestSentimentBounds(t *testing.T) {
	a := NewAnalyzer()

	s := a.AnalyzeSentiment("hopeless worthless trapped empty numb", "en")
	assert.LessOrEqual(t, s.Overall, 1.0)
	assert.GreaterOrEqual(t, s.Overall, -1.0)
	assert.Negative(t, s.Overall)
	assert.Greater(t, s.Emotions.Despair, 0.5)

	s = a.AnalyzeSentiment("grateful happy calm safe proud", "en")
	assert.Positive(t, s.Overall)
}

func TestQuickSentimentSkipsFullEmotionVector(t *testing.T) {
	a := NewAnalyzer()

	s := a.QuickSentiment("I am angry and afraid and hopeless", "en")
	assert.Greater(t, s.Emotions.Despair, 0.0)
	assert.Zero(t, s.Emotions.Anger)
	assert.Zero(t, s.Emotions.Fear)
}

func TestEmptyTextSentiment(t *testing.T) {
	a := NewAnalyzer()
	assert.Zero(t, a.AnalyzeSentiment("", "en"))
}

func TestDeterministicUnderConcurrency(t *testing.T) {
	a := NewAnalyzer()
	want := a.AnalyzeKeywords("I want to die but my therapist is helping", "en")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := a.AnalyzeKeywords("I want to die but my therapist is helping", "en")
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}
