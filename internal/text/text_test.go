package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQGrams(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{"\x02\x03"}},
		{"single", "a", []string{"\x02a", "a\x03"}},
		{"word", "abc", []string{"\x02a", "ab", "bc", "c\x03"}},
		{"case", "AbA", []string{"\x02a", "a\x03", "ab", "ba"}},
		{"dedup", "aaa", []string{"\x02a", "a\x03", "aa"}},
		{"control", "a\tb", []string{"\x02a", " b", "a ", "b\x03"}},
		{"unicode", "Äö", []string{"\x02ä", "äö", "ö\x03"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QGrams([]byte(tt.in)))
		})
	}
}

func TestQueryGrams(t *testing.T) {
	g, ok := QueryGrams([]byte("ab"), false, false)
	assert.True(t, ok)
	assert.Equal(t, []string{"ab"}, g)

	g, ok = QueryGrams([]byte("ab"), true, false)
	assert.True(t, ok)
	assert.Equal(t, []string{"\x02a", "ab"}, g)

	g, ok = QueryGrams([]byte("ab"), true, true)
	assert.True(t, ok)
	assert.Equal(t, []string{"\x02a", "ab", "b\x03"}, g)

	g, ok = QueryGrams([]byte("X"), false, false)
	assert.False(t, ok)
	assert.Equal(t, []string{"x"}, g)

	// A single anchored rune already forms a gram.
	g, ok = QueryGrams([]byte("x"), false, true)
	assert.True(t, ok)
	assert.Equal(t, []string{"x\x03"}, g)

	g, ok = QueryGrams(nil, false, false)
	assert.False(t, ok)
	assert.Equal(t, []string{""}, g)
}

func TestQueryGramsAreSubsetOfTextGrams(t *testing.T) {
	text := []byte("The Quick brown fox jumps")
	all := QGrams(text)
	for _, expr := range []string{"quick", "K BRO", "fox j", "umps"} {
		g, ok := QueryGrams([]byte(expr), false, false)
		require.True(t, ok)
		for _, unit := range g {
			assert.Contains(t, all, unit, expr)
		}
	}
	g, _ := QueryGrams([]byte("the"), true, false)
	for _, unit := range g {
		assert.Contains(t, all, unit)
	}
	g, _ = QueryGrams([]byte("jumps"), false, true)
	for _, unit := range g {
		assert.Contains(t, all, unit)
	}
}

func TestTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"simple", "alpha beta", []string{"alpha", "beta"}},
		{"punct", "Hello, World! hello", []string{"hello", "world"}},
		{"numbers", "v2 release 2024", []string{"2024", "release", "v2"}},
		{"width", "ＡＢＣ abc", []string{"abc"}},
		{"only-punct", "... !!", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokens([]byte(tt.in)))
		})
	}
}

func TestTokensTruncate(t *testing.T) {
	long := strings.Repeat("é", MaxTokenLen)
	toks := Tokens([]byte(long))
	require.Len(t, toks, 1)
	assert.LessOrEqual(t, len(toks[0]), MaxTokenLen)
	assert.True(t, strings.HasPrefix(long, toks[0]))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "abc", Normalize("ＡＢＣ"))
	assert.Equal(t, "straße", Normalize("Straße"))
	assert.Equal(t, Tokens([]byte("Gamma"))[0], Normalize("Gamma"))
}
