package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Inputs below are lines already assembled right-to-left, the order the
// recognize stage produces. Embedded left-to-right fragments therefore
// arrive reversed and must be flipped back.
func TestFixMixedTextOrder(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "pure rtl text unchanged",
			input:    "سلام دنیا",
			expected: "سلام دنیا",
		},
		{
			name:     "embedded ltr run is reversed",
			input:    "کلمه DEF ABC کلمه",
			expected: "کلمه ABC DEF کلمه",
		},
		{
			name:     "ltr only line assembled rtl is restored",
			input:    "world hello",
			expected: "hello world",
		},
		{
			name:     "digits count as ltr",
			input:    "سال 2024 1403 بود",
			expected: "سال 1403 2024 بود",
		},
		{
			name:     "single token",
			input:    "hello",
			expected: "hello",
		},
		{
			name:     "whitespace only",
			input:    "   ",
			expected: "   ",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FixMixedTextOrder(tc.input))
		})
	}
}

func TestFixMixedTextOrderIsIdempotentForRTL(t *testing.T) {
	input := "سلام دنیا"
	assert.Equal(t, FixMixedTextOrder(input), FixMixedTextOrder(FixMixedTextOrder(input)))
}
