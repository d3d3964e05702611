// Package textutil holds text assembly helpers for right-to-left pages.
package textutil

import "regexp"

var (
	// Arabic-script block, which covers Persian.
	rtlPattern   = regexp.MustCompile(`[\x{0600}-\x{06FF}]`)
	tokenPattern = regexp.MustCompile(`\S+|\s+`)
)

// FixMixedTextOrder corrects display order for strings mixing
// right-to-left and left-to-right text. The line is split into contiguous
// runs of same-script tokens; RTL runs keep their natural order while
// embedded LTR runs are reversed token-wise, restoring correct reading
// order after the words were assembled right-to-left.
func FixMixedTextOrder(text string) string {
	tokens := tokenPattern.FindAllString(text, -1)
	if len(tokens) == 0 {
		return text
	}

	type run struct {
		rtl    bool
		tokens []string
	}

	var runs []run
	current := run{rtl: rtlPattern.MatchString(tokens[0])}
	for _, token := range tokens {
		tokenRTL := rtlPattern.MatchString(token)
		if tokenRTL == current.rtl {
			current.tokens = append(current.tokens, token)
			continue
		}
		runs = append(runs, current)
		current = run{rtl: tokenRTL, tokens: []string{token}}
	}
	runs = append(runs, current)

	out := make([]byte, 0, len(text))
	for _, r := range runs {
		if !r.rtl {
			for i, j := 0, len(r.tokens)-1; i < j; i, j = i+1, j-1 {
				r.tokens[i], r.tokens[j] = r.tokens[j], r.tokens[i]
			}
		}
		for _, token := range r.tokens {
			out = append(out, token...)
		}
	}
	return string(out)
}
