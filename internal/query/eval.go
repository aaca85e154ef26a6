package query

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/idb/internal/search"
)

// Searcher runs a single condition.
type Searcher interface {
	Search(expr []byte, mode search.Mode) (*roaring64.Bitmap, error)
}

// Evaluate runs the clauses of plan left to right. An empty plan yields an
// empty result.
func Evaluate(plan *Plan, s Searcher) (*roaring64.Bitmap, error) {
	var result *roaring64.Bitmap
	for _, c := range plan.Clauses {
		bm, err := s.Search(c.Expr, c.Mode)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = bm
			continue
		}
		switch c.Op {
		case And:
			result.And(bm)
		case Or:
			result.Or(bm)
		case Not:
			result.AndNot(bm)
		}
	}
	if result == nil {
		return roaring64.New(), nil
	}
	return result, nil
}
