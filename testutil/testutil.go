package testutil

import (
	"math/rand"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/idb/internal/search"
	"github.com/hupe1980/idb/internal/text"
)

// Vocabulary is the word list used by the text generators. It mixes ASCII,
// accented and CJK words so that q-gram and token paths both see multi-byte
// runes.
var Vocabulary = []string{
	"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta",
	"iota", "kappa", "lambda", "omicron", "sigma", "omega", "apple", "apricot",
	"banana", "cherry", "date", "fig", "grape", "lemon", "mango", "melon",
	"café", "naïve", "résumé", "über", "straße", "東京", "大阪", "京都",
	"Index", "Search", "Token", "42", "2024", "x", "go", "db",
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Word returns a word from Vocabulary. Low indices are drawn more often,
// which gives the corpus a skewed term distribution.
func (r *RNG) Word() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.rand.Intn(len(Vocabulary))
	if r.rand.Intn(2) == 0 {
		i /= 4
	}
	return Vocabulary[i]
}

// Sentence joins n words with single spaces and the occasional punctuation.
func (r *RNG) Sentence(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			if r.Intn(8) == 0 {
				sb.WriteString(", ")
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(r.Word())
	}
	return sb.String()
}

// Corpus generates n documents with ids 1..n, each of words words.
func (r *RNG) Corpus(n, words int) map[uint64]string {
	out := make(map[uint64]string, n)
	for i := 1; i <= n; i++ {
		out[uint64(i)] = r.Sentence(1 + r.Intn(words))
	}
	return out
}

// Matches reports whether doc matches expr under mode, computed without any
// index.
func Matches(doc, expr string, mode search.Mode) bool {
	switch mode {
	case search.Substr:
		return strings.Contains(doc, expr)
	case search.Prefix:
		return strings.HasPrefix(doc, expr)
	case search.Suffix:
		return strings.HasSuffix(doc, expr)
	case search.Full:
		return doc == expr
	case search.Token:
		want := text.Tokens([]byte(expr))
		if len(want) == 0 {
			return false
		}
		have := text.Tokens([]byte(doc))
		for _, tok := range want {
			if _, ok := slices.BinarySearch(have, tok); !ok {
				return false
			}
		}
		return true
	case search.TokenPrefix, search.TokenSuffix:
		needle := text.Normalize(strings.ToValidUTF8(expr, ""))
		if needle == "" {
			return false
		}
		for _, tok := range text.Tokens([]byte(doc)) {
			if mode == search.TokenPrefix && strings.HasPrefix(tok, needle) {
				return true
			}
			if mode == search.TokenSuffix && strings.HasSuffix(tok, needle) {
				return true
			}
		}
		return false
	}
	return false
}

// ExactSearch returns the sorted ids of the corpus documents matching expr.
func ExactSearch(corpus map[uint64]string, expr string, mode search.Mode) []uint64 {
	var out []uint64
	for id, doc := range corpus {
		if Matches(doc, expr, mode) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
