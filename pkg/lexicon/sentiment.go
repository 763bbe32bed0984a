package lexicon

import (
	"strings"

	"github.com/havenline/triage/pkg/contracts"
)

// sentimentLists holds the per-language word lists sentiment estimation
// is derived from. Scores are hit ratios over the token count, so longer
// neutral text dilutes isolated emotional words.
type sentimentLists struct {
	positive []string
	negative []string
	despair  []string
	anger    []string
	fear     []string
	hope     []string
}

// AnalyzeSentiment estimates overall sentiment in [-1,1] and a bounded
// emotion vector from category word-list hit ratios.
func (a *Analyzer) AnalyzeSentiment(text, lang string) contracts.Sentiment {
	return a.resolve(lang).sentiment.analyze(text, false)
}

// QuickSentiment is the cheaper variant used outside ensemble mode. It
// skips the emotion vector except despair, which crisis-level
// classification depends on.
func (a *Analyzer) QuickSentiment(text, lang string) contracts.Sentiment {
	return a.resolve(lang).sentiment.analyze(text, true)
}

func (l sentimentLists) analyze(text string, quick bool) contracts.Sentiment {
	tokens := strings.Fields(normalize(text))
	if len(tokens) == 0 {
		return contracts.Sentiment{}
	}
	joined := " " + strings.Join(tokens, " ") + " "
	n := float64(len(tokens))

	pos := countHits(joined, l.positive)
	neg := countHits(joined, l.negative)
	overall := clamp((pos-neg)/n*3, -1, 1)

	s := contracts.Sentiment{Overall: overall}
	s.Emotions.Despair = clamp(countHits(joined, l.despair)/n*3, 0, 1)
	if quick {
		return s
	}
	s.Emotions.Anger = clamp(countHits(joined, l.anger)/n*3, 0, 1)
	s.Emotions.Fear = clamp(countHits(joined, l.fear)/n*3, 0, 1)
	s.Emotions.Hope = clamp(countHits(joined, l.hope)/n*3, 0, 1)
	return s
}

func countHits(joined string, words []string) float64 {
	var hits float64
	for _, w := range words {
		hits += float64(strings.Count(joined, " "+w+" "))
	}
	return hits
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func englishSentiment() sentimentLists {
	return sentimentLists{
		positive: []string{
			"good", "great", "better", "helping", "helped", "grateful",
			"thankful", "happy", "calm", "safe", "proud", "improving",
		},
		negative: []string{
			"bad", "worse", "awful", "terrible", "horrible", "alone",
			"worthless", "hopeless", "useless", "exhausted", "trapped",
			"unbearable", "miserable", "empty",
		},
		despair: []string{
			"hopeless", "pointless", "worthless", "trapped", "empty",
			"numb", "unbearable", "drowning", "suffocating",
		},
		anger: []string{
			"angry", "furious", "hate", "rage", "unfair", "betrayed",
		},
		fear: []string{
			"afraid", "scared", "terrified", "anxious", "panic", "dread",
		},
		hope: []string{
			"hope", "hopeful", "future", "tomorrow", "better", "forward",
			"recovering", "healing",
		},
	}
}

func spanishSentiment() sentimentLists {
	return sentimentLists{
		positive: []string{
			"bien", "mejor", "ayuda", "agradecido", "feliz", "tranquilo", "seguro",
		},
		negative: []string{
			"mal", "peor", "terrible", "solo", "sola", "inútil", "atrapado",
			"insoportable", "vacío",
		},
		despair: []string{
			"desesperanza", "inútil", "atrapado", "vacío", "insoportable",
		},
		anger: []string{
			"enojado", "furioso", "odio", "rabia", "injusto",
		},
		fear: []string{
			"miedo", "asustado", "aterrado", "ansioso", "pánico",
		},
		hope: []string{
			"esperanza", "futuro", "mañana", "mejor", "adelante",
		},
	}
}
