package curriculum

import (
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var folder = cases.Fold()

// NormalizeAnswer canonicalises free-text answers: full-width digits become ASCII,
// case is folded, whitespace is collapsed and a trailing period is dropped.
func NormalizeAnswer(s string) string {
	s = norm.NFKC.String(s)
	s = width.Narrow.String(s)
	s = folder.String(s)
	s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	return strings.TrimSuffix(s, ".")
}

// numericValue parses answers such as "1,250", "0.5", "1/2" or "-3".
func numericValue(s string) (*big.Rat, bool) {
	s = strings.ReplaceAll(NormalizeAnswer(s), ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(s)
	return r, ok
}

// Check scores answer against the item's answer key. ok is false when the
// item has nothing to score against.
func (c ContentItem) Check(answer string) (correct, ok bool) {
	if !c.Type.Answerable() || strings.TrimSpace(c.Metadata.Answer) == "" {
		return false, false
	}

	key := c.Metadata.Answer
	if c.Type == TypeMultipleChoice {
		answer = resolveChoice(answer, c.Metadata.Choices)
	}

	if want, isNum := numericValue(key); isNum {
		if got, gotNum := numericValue(answer); gotNum {
			return want.Cmp(got) == 0, true
		}
	}
	return NormalizeAnswer(answer) == NormalizeAnswer(key), true
}

// resolveChoice maps a choice letter ("b", "B.") to the choice text.
func resolveChoice(answer string, choices []string) string {
	n := NormalizeAnswer(answer)
	for _, c := range choices {
		if NormalizeAnswer(c) == n {
			return answer
		}
	}
	n = strings.TrimSuffix(n, ")")
	if len(n) == 1 && n[0] >= 'a' && n[0] <= 'z' {
		if i := int(n[0] - 'a'); i < len(choices) {
			return choices[i]
		}
	}
	return answer
}
