package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateConfidence(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		expected float64
	}{
		{"empty text scores zero", "", 0.0},
		{"single letter", "a", 0.75},
		{"clean latin word", "hello", 0.85},
		{"clean persian word", "سلام", 0.85},
		{"mostly symbols", "@#$%", 0.6},
		{"mixed letters and digits", "ab12", 0.6},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, estimateConfidence(tc.text), 1e-9)
		})
	}
}

func TestConfidenceIsBounded(t *testing.T) {
	for _, text := range []string{"", "x", "word", "کلمه", "123", "!!!", "verylongcleanword"} {
		c := estimateConfidence(text)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 0.85)
	}
}

func TestNewTesseractRecognizerDefaultsToEnglish(t *testing.T) {
	r := NewTesseractRecognizer("")
	assert.Equal(t, []string{"eng"}, r.languages)

	r = NewTesseractRecognizer("fas+eng")
	assert.Equal(t, []string{"fas", "eng"}, r.languages)
}
