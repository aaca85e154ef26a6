package search

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/idb/internal/text"
)

const (
	// MaxExpressionLen bounds the byte length of a search expression.
	MaxExpressionLen = 1 << 20
	// DefaultFwmMax caps the tokens expanded by prefix and suffix token modes.
	DefaultFwmMax = 2048
)

var (
	ErrInvalidMode = errors.New("search: invalid mode")
	ErrTooLong     = errors.New("search: expression too long")
)

// Postings is the read side of an inverted index.
type Postings interface {
	Lookup(unit string) (*roaring64.Bitmap, error)
	LookupUnion(units []string) (*roaring64.Bitmap, error)
	Scan(prefix string, fn func(unit string) bool) error
}

// Documents gives access to stored texts for verification.
type Documents interface {
	View(id uint64, fn func(text []byte)) (bool, error)
	Scan(fn func(id uint64, text []byte) bool) error
}

// Engine answers single-condition searches.
type Engine struct {
	QGrams Postings
	Tokens Postings
	Docs   Documents
	// FwmMax caps token expansion. Values <= 0 use DefaultFwmMax.
	FwmMax int
	Logger *slog.Logger
}

// Stats describes the work done by one search.
type Stats struct {
	Units      int
	Candidates uint64
	Verified   uint64
	FullScan   bool
}

// Search returns the ids of the documents matching expr under mode.
func (e *Engine) Search(expr []byte, mode Mode) (*roaring64.Bitmap, error) {
	bm, _, err := e.SearchStats(expr, mode)
	return bm, err
}

// SearchStats is like Search and also reports how the result was computed.
func (e *Engine) SearchStats(expr []byte, mode Mode) (*roaring64.Bitmap, Stats, error) {
	var st Stats
	if !mode.Valid() {
		return nil, st, fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}
	if len(expr) > MaxExpressionLen {
		return nil, st, fmt.Errorf("%w: %d bytes", ErrTooLong, len(expr))
	}

	var (
		bm  *roaring64.Bitmap
		err error
	)
	switch mode {
	case Token:
		bm, err = e.searchToken(expr, &st)
	case TokenPrefix, TokenSuffix:
		bm, err = e.searchTokenAffix(expr, mode, &st)
	default:
		bm, err = e.searchGrams(expr, mode, &st)
	}
	if err != nil {
		return nil, st, err
	}
	if e.Logger != nil {
		e.Logger.Debug("search", "mode", mode, "units", st.Units, "candidates", st.Candidates,
			"results", bm.GetCardinality(), "full_scan", st.FullScan)
	}
	return bm, st, nil
}

func matcher(mode Mode, expr []byte) func(text []byte) bool {
	switch mode {
	case Prefix:
		return func(t []byte) bool { return bytes.HasPrefix(t, expr) }
	case Suffix:
		return func(t []byte) bool { return bytes.HasSuffix(t, expr) }
	case Full:
		return func(t []byte) bool { return bytes.Equal(t, expr) }
	default:
		return func(t []byte) bool { return bytes.Contains(t, expr) }
	}
}

func (e *Engine) searchGrams(expr []byte, mode Mode, st *Stats) (*roaring64.Bitmap, error) {
	match := matcher(mode, expr)

	if len(expr) == 0 && mode != Full {
		return e.scan(func([]byte) bool { return true }, st)
	}
	if !utf8.Valid(expr) {
		return e.scan(match, st)
	}

	units, ok := text.QueryGrams(expr, mode == Prefix || mode == Full, mode == Suffix || mode == Full)
	st.Units = len(units)

	var candidates *roaring64.Bitmap
	if ok {
		var err error
		candidates, err = intersect(e.QGrams, units)
		if err != nil {
			return nil, err
		}
	} else {
		// A lone rune begins at least one gram of every text containing it.
		grams, err := collect(e.QGrams, units[0], 0, nil)
		if err != nil {
			return nil, err
		}
		candidates, err = e.QGrams.LookupUnion(grams)
		if err != nil {
			return nil, err
		}
	}
	st.Candidates = candidates.GetCardinality()
	return e.verify(candidates, match, st)
}

func (e *Engine) searchToken(expr []byte, st *Stats) (*roaring64.Bitmap, error) {
	tokens := text.Tokens(expr)
	st.Units = len(tokens)
	if len(tokens) == 0 {
		return roaring64.New(), nil
	}
	bm, err := intersect(e.Tokens, tokens)
	if err != nil {
		return nil, err
	}
	st.Candidates = bm.GetCardinality()
	return bm, nil
}

func (e *Engine) searchTokenAffix(expr []byte, mode Mode, st *Stats) (*roaring64.Bitmap, error) {
	needle := text.Normalize(strings.ToValidUTF8(string(expr), ""))
	if needle == "" {
		return roaring64.New(), nil
	}
	limit := e.FwmMax
	if limit <= 0 {
		limit = DefaultFwmMax
	}

	var (
		tokens []string
		err    error
	)
	if mode == TokenPrefix {
		tokens, err = collect(e.Tokens, needle, limit, nil)
	} else {
		tokens, err = collect(e.Tokens, "", limit, func(unit string) bool {
			return strings.HasSuffix(unit, needle)
		})
	}
	if err != nil {
		return nil, err
	}
	st.Units = len(tokens)
	bm, err := e.Tokens.LookupUnion(tokens)
	if err != nil {
		return nil, err
	}
	st.Candidates = bm.GetCardinality()
	return bm, nil
}

// collect gathers units starting with prefix that satisfy keep, stopping
// after limit matches when limit > 0.
func collect(p Postings, prefix string, limit int, keep func(string) bool) ([]string, error) {
	var out []string
	err := p.Scan(prefix, func(unit string) bool {
		if keep == nil || keep(unit) {
			out = append(out, unit)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// intersect intersects the postings of units, smallest list first.
func intersect(p Postings, units []string) (*roaring64.Bitmap, error) {
	lists := make([]*roaring64.Bitmap, 0, len(units))
	for _, unit := range units {
		bm, err := p.Lookup(unit)
		if err != nil {
			return nil, err
		}
		if bm.IsEmpty() {
			return roaring64.New(), nil
		}
		lists = append(lists, bm)
	}
	slices.SortFunc(lists, func(a, b *roaring64.Bitmap) int {
		ca, cb := a.GetCardinality(), b.GetCardinality()
		switch {
		case ca < cb:
			return -1
		case ca > cb:
			return 1
		}
		return 0
	})

	result := lists[0]
	for _, bm := range lists[1:] {
		result.And(bm)
		if result.IsEmpty() {
			break
		}
	}
	return result, nil
}

func (e *Engine) verify(candidates *roaring64.Bitmap, match func([]byte) bool, st *Stats) (*roaring64.Bitmap, error) {
	out := roaring64.New()
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		var hit bool
		found, err := e.Docs.View(id, func(t []byte) { hit = match(t) })
		if err != nil {
			return nil, err
		}
		st.Verified++
		if found && hit {
			out.Add(id)
		}
	}
	return out, nil
}

func (e *Engine) scan(match func([]byte) bool, st *Stats) (*roaring64.Bitmap, error) {
	st.FullScan = true
	out := roaring64.New()
	err := e.Docs.Scan(func(id uint64, t []byte) bool {
		st.Verified++
		if match(t) {
			out.Add(id)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
