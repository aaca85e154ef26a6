package idb

import (
	"fmt"
	"time"

	"github.com/hupe1980/idb/internal/query"
	"github.com/hupe1980/idb/internal/search"
)

// Get returns the text stored under id. A missing id returns (nil, false, nil)
// and records ECodeNoRec.
func (db *DB) Get(id uint64) ([]byte, bool, error) {
	start := time.Now()
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return nil, false, db.record("get", err)
	}

	doc, ok, err := db.docs.Get(id)
	if err != nil {
		return nil, false, db.record("get", err)
	}
	db.metrics.RecordGet(ok, time.Since(start))
	if !ok {
		db.ecode.Store(int32(ECodeNoRec))
		return nil, false, nil
	}
	return doc, true, db.record("get", nil)
}

func (db *DB) engine() *search.Engine {
	return &search.Engine{
		QGrams: db.qgrams,
		Tokens: db.tokens,
		Docs:   db.docs,
		FwmMax: int(db.fwmmax.Load()),
		Logger: db.logger.Component("search"),
	}
}

// Search returns the ids of the documents matching expr under mode in
// ascending order.
func (db *DB) Search(expr []byte, mode SearchMode) (ids []uint64, err error) {
	start := time.Now()
	defer func() {
		db.metrics.RecordSearch(mode, len(ids), time.Since(start), err)
		db.logger.LogSearch(mode, len(expr), len(ids), err)
	}()

	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return nil, db.record("search", err)
	}
	bm, err := db.engine().Search(expr, mode)
	if err != nil {
		return nil, db.record("search", err)
	}
	return bm.ToArray(), db.record("search", nil)
}

// SearchCompound evaluates a compound expression such as
// `alpha && PREFIX "be" || TOKSUF ma`. Clauses are combined strictly left to
// right. Malformed clauses are skipped unless the handle was created with
// WithStrictCompound.
func (db *DB) SearchCompound(expr []byte) (ids []uint64, err error) {
	start := time.Now()
	clauses := 0
	defer func() {
		db.metrics.RecordCompound(clauses, len(ids), time.Since(start), err)
	}()

	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return nil, db.record("search_compound", err)
	}
	if len(expr) > search.MaxExpressionLen {
		return nil, db.record("search_compound", fmt.Errorf("%w: %d bytes", search.ErrTooLong, len(expr)))
	}

	plan, err := query.Parse(string(expr), db.opts.strictCompound)
	if err != nil {
		return nil, db.record("search_compound", err)
	}
	clauses = len(plan.Clauses)
	for _, d := range plan.Diagnostics {
		db.logger.Debug("compound clause skipped", "pos", d.Pos, "reason", d.Msg)
	}

	bm, err := query.Evaluate(plan, db.engine())
	if err != nil {
		return nil, db.record("search_compound", err)
	}
	return bm.ToArray(), db.record("search_compound", nil)
}
