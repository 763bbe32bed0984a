// Package lexicon implements the crisis keyword and sentiment analyzer.
// All analysis is pure and deterministic: no state is mutated after
// construction, so a single Analyzer is safe for concurrent use without
// synchronization.
package lexicon

import (
	"strings"
)

// Tier identifies the danger tier a matched phrase belongs to.
type Tier string

const (
	TierImmediate Tier = "immediate"
	TierPlanning  Tier = "planning"
	TierSelfHarm  Tier = "self_harm"
	TierDistress  Tier = "distress"
)

// Tier severities. Ties between tiers prefer the higher tier.
const (
	severityImmediate = 1.0
	severityPlanning  = 0.9
	severitySelfHarm  = 0.7
	severityDistress  = 0.5

	// Each protective factor reduces severity by this much, floored at
	// protectiveFloor once any danger signal fired.
	protectiveStep  = 0.1
	protectiveFloor = 0.3
)

// KeywordResult is the outcome of crisis keyword analysis.
type KeywordResult struct {
	Detected          bool     `json:"detected"`
	Severity          float64  `json:"severity"` // [0,1]
	MatchedTerms      []string `json:"matched_terms,omitempty"`
	Category          Tier     `json:"category,omitempty"`
	ProtectiveFactors []string `json:"protective_factors,omitempty"`
}

// languagePack holds the phrase lists for one language.
type languagePack struct {
	tiers      map[Tier][]string
	protective []string
	sentiment  sentimentLists
}

// Analyzer matches crisis phrases and estimates sentiment per language.
// Unknown languages fall back to English.
type Analyzer struct {
	packs map[string]*languagePack
}

// Option overrides part of an Analyzer's built-in phrase lists.
type Option func(*Analyzer)

// WithTierPhrases replaces the phrase list for one tier of one language.
// The lists are treated as configuration: deployments tune them without
// code changes, the ordering and floor invariants stay fixed.
func WithTierPhrases(lang string, tier Tier, phrases []string) Option {
	return func(a *Analyzer) {
		p := a.pack(lang)
		p.tiers[tier] = normalizeAll(phrases)
	}
}

// WithProtectivePhrases replaces the protective-factor list for a language.
func WithProtectivePhrases(lang string, phrases []string) Option {
	return func(a *Analyzer) {
		a.pack(lang).protective = normalizeAll(phrases)
	}
}

// NewAnalyzer builds an analyzer with the built-in English and Spanish
// phrase lists, then applies any overrides.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{packs: map[string]*languagePack{
		"en": englishPack(),
		"es": spanishPack(),
	}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyzer) pack(lang string) *languagePack {
	if p, ok := a.packs[lang]; ok {
		return p
	}
	p := &languagePack{tiers: make(map[Tier][]string)}
	a.packs[lang] = p
	return p
}

// resolve picks the pack for a language tag, falling back to the base
// language ("es-MX" -> "es") and then to English.
func (a *Analyzer) resolve(lang string) *languagePack {
	lang = strings.ToLower(lang)
	if p, ok := a.packs[lang]; ok {
		return p
	}
	if base, _, found := strings.Cut(lang, "-"); found {
		if p, ok := a.packs[base]; ok {
			return p
		}
	}
	return a.packs["en"]
}

// AnalyzeKeywords scans text for crisis phrases. Severity is the maximum
// across the matched tiers; detected protective factors each reduce it by
// 0.1, floored at 0.3 so a danger signal is never eliminated entirely.
func (a *Analyzer) AnalyzeKeywords(text, lang string) KeywordResult {
	pack := a.resolve(lang)
	lowered := normalize(text)

	var res KeywordResult
	for _, tier := range []Tier{TierImmediate, TierPlanning, TierSelfHarm, TierDistress} {
		for _, phrase := range pack.tiers[tier] {
			if strings.Contains(lowered, phrase) {
				res.MatchedTerms = append(res.MatchedTerms, phrase)
				if sev := tierSeverity(tier); sev > res.Severity {
					res.Severity = sev
					res.Category = tier
				}
			}
		}
	}
	res.Detected = res.Severity > 0

	if !res.Detected {
		return res
	}
	for _, phrase := range pack.protective {
		if strings.Contains(lowered, phrase) {
			res.ProtectiveFactors = append(res.ProtectiveFactors, phrase)
			res.Severity -= protectiveStep
		}
	}
	if res.Severity < protectiveFloor {
		res.Severity = protectiveFloor
	}
	return res
}

func tierSeverity(t Tier) float64 {
	switch t {
	case TierImmediate:
		return severityImmediate
	case TierPlanning:
		return severityPlanning
	case TierSelfHarm:
		return severitySelfHarm
	case TierDistress:
		return severityDistress
	}
	return 0
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeAll(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, normalize(p))
	}
	return out
}

func englishPack() *languagePack {
	return &languagePack{
		tiers: map[Tier][]string{
			TierImmediate: {
				"kill myself tonight",
				"end it tonight",
				"i have the pills",
				"taking them tonight",
				"i have a gun",
				"about to jump",
				"goodbye forever",
				"this is my last",
			},
			TierPlanning: {
				"kill myself",
				"end my life",
				"suicide plan",
				"written a note",
				"give away my things",
				"how to die",
				"ways to end it",
				"when i'm gone",
			},
			TierSelfHarm: {
				"hurt myself",
				"cut myself",
				"cutting again",
				"burn myself",
				"punish myself",
				"self harm",
				"self-harm",
			},
			TierDistress: {
				"want to die",
				"wish i was dead",
				"can't go on",
				"no reason to live",
				"nothing matters",
				"hopeless",
				"unbearable",
				"everyone would be better off",
				"nothing works",
			},
		},
		protective: []string{
			"my therapist",
			"my counselor",
			"getting help",
			"in treatment",
			"my medication is helping",
			"my family needs me",
			"my kids need me",
			"looking forward to",
			"next week",
			"there is hope",
			"is helping",
			"support group",
		},
		sentiment: englishSentiment(),
	}
}

func spanishPack() *languagePack {
	return &languagePack{
		tiers: map[Tier][]string{
			TierImmediate: {
				"matarme esta noche",
				"tengo las pastillas",
				"tengo un arma",
				"adiós para siempre",
			},
			TierPlanning: {
				"quitarme la vida",
				"plan de suicidio",
				"cómo morir",
				"escribí una nota",
			},
			TierSelfHarm: {
				"hacerme daño",
				"cortarme",
				"castigarme",
			},
			TierDistress: {
				"quiero morir",
				"no puedo más",
				"sin esperanza",
				"nada importa",
			},
		},
		protective: []string{
			"mi terapeuta",
			"buscando ayuda",
			"en tratamiento",
			"mi familia me necesita",
			"hay esperanza",
		},
		sentiment: spanishSentiment(),
	}
}
