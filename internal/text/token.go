package text

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

// MaxTokenLen bounds the byte length of a token. Longer words are cut on a
// rune boundary.
const MaxTokenLen = 256

// Normalize returns the indexed form of a token: NFKC, lower-cased and
// truncated to MaxTokenLen.
func Normalize(token string) string {
	return truncate(strings.ToLower(norm.NFKC.String(token)))
}

// Tokens returns the sorted, deduplicated word tokens of text.
// Segments without a letter or digit (spaces, punctuation) are dropped.
func Tokens(text []byte) []string {
	if len(text) == 0 {
		return nil
	}
	s := strings.ToLower(norm.NFKC.String(strings.ToValidUTF8(string(text), " ")))

	var out []string
	segs := words.FromString(s)
	for segs.Next() {
		seg := segs.Value()
		if !isWord(seg) {
			continue
		}
		out = append(out, truncate(seg))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func isWord(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}

func truncate(s string) string {
	if len(s) <= MaxTokenLen {
		return s
	}
	cut := MaxTokenLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
