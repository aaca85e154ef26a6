package text

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Q is the gram width in runes.
const Q = 2

const (
	// StartAnchor marks the beginning of a text.
	StartAnchor = '\x02'
	// EndAnchor marks the end of a text.
	EndAnchor = '\x03'
)

// Fold maps a rune to its indexed form. The mapping is per rune, so the folded
// form of a substring is a substring of the folded text.
func Fold(r rune) rune {
	if r == utf8.RuneError || unicode.IsControl(r) {
		return ' '
	}
	return unicode.ToLower(r)
}

// QGrams returns the sorted, deduplicated grams of text including both anchors.
func QGrams(text []byte) []string {
	return grams(fold(text, true, true))
}

// QueryGrams returns the grams of a query expression with the requested
// anchors. The second result is false when the expression is too short to
// form a single gram; the returned slice then holds the folded expression
// itself, which is a prefix of every gram that can contain it.
func QueryGrams(expr []byte, anchorStart, anchorEnd bool) ([]string, bool) {
	runes := fold(expr, anchorStart, anchorEnd)
	if len(runes) < Q {
		return []string{string(runes)}, false
	}
	return grams(runes), true
}

func fold(text []byte, anchorStart, anchorEnd bool) []rune {
	runes := make([]rune, 0, utf8.RuneCount(text)+2)
	if anchorStart {
		runes = append(runes, StartAnchor)
	}
	for len(text) > 0 {
		r, size := utf8.DecodeRune(text)
		runes = append(runes, Fold(r))
		text = text[size:]
	}
	if anchorEnd {
		runes = append(runes, EndAnchor)
	}
	return runes
}

func grams(runes []rune) []string {
	if len(runes) < Q {
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-Q+1)
	var sb strings.Builder
	for i := 0; i+Q <= len(runes); i++ {
		sb.Reset()
		for _, r := range runes[i : i+Q] {
			sb.WriteRune(r)
		}
		out = append(out, sb.String())
	}
	slices.Sort(out)
	return slices.Compact(out)
}
