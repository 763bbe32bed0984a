// Package langdetect implements lightweight language detection over small
// per-language indicator word sets. It is a heuristic good enough to pick
// a lexicon pack, not a general-purpose classifier.
package langdetect

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// DefaultLanguage is returned when no indicator set wins.
const DefaultLanguage = "en"

// maxCacheEntries bounds the detection cache; detection is cheap enough
// that eviction can simply drop the whole map.
const maxCacheEntries = 4096

var indicators = map[string][]string{
	"en": {"the", "and", "is", "are", "was", "you", "have", "not", "with", "this", "that", "for"},
	"es": {"el", "la", "los", "las", "es", "está", "que", "por", "para", "con", "una", "pero", "muy"},
	"fr": {"le", "la", "les", "est", "une", "que", "pour", "avec", "dans", "mais", "très"},
	"de": {"der", "die", "das", "ist", "und", "nicht", "mit", "für", "aber", "sehr", "ich"},
	"pt": {"o", "os", "as", "é", "são", "que", "para", "com", "uma", "mas", "muito", "não"},
}

// Detector detects the dominant language of short texts, caching results
// keyed by a content fingerprint.
type Detector struct {
	mu    sync.RWMutex
	cache map[string]string
}

// New creates a Detector with an empty cache.
func New() *Detector {
	return &Detector{cache: make(map[string]string)}
}

// Detect returns the canonical BCP-47 tag of the best-matching language,
// or DefaultLanguage when the text is empty or no indicator wins. A
// caller-provided hint short-circuits detection when it parses.
func (d *Detector) Detect(text, hint string) string {
	if hint != "" {
		if tag, err := language.Parse(hint); err == nil {
			base, _ := tag.Base()
			return base.String()
		}
	}
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return DefaultLanguage
	}

	key := fingerprint(tokens)
	d.mu.RLock()
	cached, ok := d.cache[key]
	d.mu.RUnlock()
	if ok {
		return cached
	}

	lang := classify(tokens)

	d.mu.Lock()
	if len(d.cache) >= maxCacheEntries {
		d.cache = make(map[string]string)
	}
	d.cache[key] = lang
	d.mu.Unlock()
	return lang
}

func classify(tokens []string) string {
	present := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		present[strings.Trim(tok, ".,!?;:'\"()")] = true
	}

	best, bestScore := DefaultLanguage, 0
	for lang, words := range indicators {
		score := 0
		for _, w := range words {
			if present[w] {
				score++
			}
		}
		// Strict inequality plus the fixed fallback keeps ties stable.
		if score > bestScore {
			best, bestScore = lang, score
		} else if score == bestScore && score > 0 && lang < best {
			best = lang
		}
	}
	if bestScore == 0 {
		return DefaultLanguage
	}
	tag := language.Make(best)
	base, _ := tag.Base()
	return base.String()
}

func fingerprint(tokens []string) string {
	joined := strings.Join(tokens, " ")
	if len(joined) > 128 {
		joined = joined[:128]
	}
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:8])
}
