package ensemble

import (
	"context"
	"regexp"
	"strings"
)

// Built-in heuristic models. They stand in for externally trained
// classifiers behind the same Model interface, which keeps the pipeline
// operational without a model-serving dependency and gives tests a
// deterministic baseline.

// WordlistModel scores text by weighted keyword hits in one category.
type WordlistModel struct {
	name     string
	version  string
	weight   float64
	category string
	terms    map[string]float64 // term -> contribution
}

// NewToxicityModel builds the default toxicity/harassment wordlist model.
func NewToxicityModel() *WordlistModel {
	return &WordlistModel{
		name:     "wordlist-toxicity",
		version:  "1.2.0",
		weight:   0.4,
		category: "toxicity",
		terms: map[string]float64{
			"hate you":  0.5,
			"stupid":    0.3,
			"worthless": 0.3,
			"idiot":     0.4,
			"shut up":   0.3,
			"loser":     0.3,
			"kill you":  0.9,
			"hurt you":  0.7,
		},
	}
}

func (m *WordlistModel) Name() string    { return m.name }
func (m *WordlistModel) Version() string { return m.version }
func (m *WordlistModel) Weight() float64 { return m.weight }

func (m *WordlistModel) Analyze(ctx context.Context, text, lang string) (Score, error) {
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}
	lowered := strings.ToLower(text)
	var total float64
	hits := 0
	for term, v := range m.terms {
		if strings.Contains(lowered, term) {
			total += v
			hits++
		}
	}
	score := clamp01(total)
	conf := 0.5
	if hits > 0 {
		conf = clamp01(0.6 + 0.1*float64(hits))
	}
	var cats []string
	if score >= 0.3 {
		cats = []string{m.category}
	}
	return Score{Score: score, Confidence: conf, Categories: cats}, nil
}

// PatternModel scores self-harm and violence phrasing with regular
// expressions, catching inflected forms the wordlists miss.
type PatternModel struct {
	patterns []patternRule
}

type patternRule struct {
	re       *regexp.Regexp
	score    float64
	category string
}

// NewPatternModel builds the default self-harm/violence pattern model.
func NewPatternModel() *PatternModel {
	return &PatternModel{patterns: []patternRule{
		{regexp.MustCompile(`(?i)\b(kill|end)\w*\s+(myself|my life)`), 0.95, "self_harm"},
		{regexp.MustCompile(`(?i)\b(cut|hurt|harm)\w*\s+(myself|me)\b`), 0.8, "self_harm"},
		{regexp.MustCompile(`(?i)\bwant(s)?\s+to\s+die\b`), 0.7, "self_harm"},
		{regexp.MustCompile(`(?i)\b(kill|hurt|attack)\w*\s+(you|him|her|them)\b`), 0.85, "violence"},
		{regexp.MustCompile(`(?i)\bno\s+reason\s+to\s+live\b`), 0.65, "self_harm"},
	}}
}

func (m *PatternModel) Name() string    { return "pattern-harm" }
func (m *PatternModel) Version() string { return "2.0.1" }
func (m *PatternModel) Weight() float64 { return 0.35 }

func (m *PatternModel) Analyze(ctx context.Context, text, lang string) (Score, error) {
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}
	var best float64
	catSet := map[string]struct{}{}
	for _, p := range m.patterns {
		if p.re.MatchString(text) {
			if p.score > best {
				best = p.score
			}
			catSet[p.category] = struct{}{}
		}
	}
	conf := 0.55
	if best > 0 {
		conf = 0.85
	}
	return Score{Score: best, Confidence: conf, Categories: sortedKeys(catSet)}, nil
}

// SignalModel scores spam and shouting signals from surface features of
// the text rather than its vocabulary.
type SignalModel struct{}

// NewSignalModel builds the default spam/surface-signal model.
func NewSignalModel() *SignalModel { return &SignalModel{} }

func (m *SignalModel) Name() string    { return "surface-signal" }
func (m *SignalModel) Version() string { return "1.0.3" }
func (m *SignalModel) Weight() float64 { return 0.25 }

func (m *SignalModel) Analyze(ctx context.Context, text, lang string) (Score, error) {
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Score{Confidence: 0.5}, nil
	}

	var score float64
	var cats []string

	if r := upperRatio(trimmed); r > 0.7 && len(trimmed) > 12 {
		score += 0.3
	}
	if strings.Count(trimmed, "!") >= 4 {
		score += 0.2
	}
	if strings.Contains(trimmed, "http://") || strings.Contains(trimmed, "https://") {
		score += 0.25
		cats = append(cats, "spam")
	}
	if repeatedRun(trimmed) >= 6 {
		score += 0.25
		cats = append(cats, "spam")
	}

	return Score{Score: clamp01(score), Confidence: 0.6, Categories: dedupe(cats)}, nil
}

func upperRatio(s string) float64 {
	var upper, letters float64
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			upper++
			letters++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	if letters == 0 {
		return 0
	}
	return upper / letters
}

func repeatedRun(s string) int {
	longest, run := 0, 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = r
	}
	return longest
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := map[string]struct{}{}
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
