package langdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectEnglish(t *testing.T) {
	d := New()
	assert.Equal(t, "en", d.Detect("this is the message and it was not good for you", ""))
}

func TestDetectSpanish(t *testing.T) {
	d := New()
	assert.Equal(t, "es", d.Detect("el mensaje es muy importante para la familia pero está bien", ""))
}

func TestHintWins(t *testing.T) {
	d := New()
	assert.Equal(t, "es", d.Detect("this is the message", "es"))
	assert.Equal(t, "es", d.Detect("this is the message", "es-MX"))
}

func TestInvalidHintFallsBackToDetection(t *testing.T) {
	d := New()
	assert.Equal(t, "en", d.Detect("this is the message and that is fine", "not a tag !!"))
}

func TestEmptyAndUnknownTextDefault(t *testing.T) {
	d := New()
	assert.Equal(t, DefaultLanguage, d.Detect("", ""))
	assert.Equal(t, DefaultLanguage, d.Detect("zzz qqq xxx", ""))
}

func TestCacheReturnsSameResult(t *testing.T) {
	d := New()
	first := d.Detect("the quick brown fox is here and that is that", "")
	second := d.Detect("the quick brown fox is here and that is that", "")
	assert.Equal(t, first, second)
}
