// Package idb provides an embedded inverted-index document store for Go.
//
// A database maps 64-bit document ids to text and answers full-text searches
// over it: substring, prefix, suffix and full-text matching through a q-gram
// index, and token, token-prefix and token-suffix matching through a word
// index. Compound queries combine single conditions with AND, OR and NOT.
//
// # Quick Start
//
//	db := idb.New(idb.WithLogLevel(slog.LevelInfo))
//	if err := db.Open("./casket", idb.OWriter|idb.OCreate); err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	_ = db.Put(1, []byte("alpha beta"))
//	_ = db.Put(2, []byte("beta gamma"))
//
//	ids, _ := db.Search([]byte("beta"), idb.SToken)              // [1 2]
//	ids, _ = db.SearchCompound([]byte(`alpha || TOKPRE gam`))    // [1 2]
//
// # Storage
//
// A database is a directory holding a manifest (META), a document snapshot,
// one snapshot per index and a write-ahead journal. Snapshots are immutable and
// memory mapped; changes since the last checkpoint live in memory and in the
// journal, which is replayed on open. Checkpoints run on Close, on Optimize and
// automatically once the journal holds 1<<FreeBlockPoolPower records.
//
// # Errors
//
// Every call records an [ECode] retrievable with [DB.ECode]. Returned errors
// are [*Error] values carrying the same code; [CodeOf] classifies any error.
//
// # Concurrency
//
// A DB is safe for concurrent use. Writes are serialized; reads run in
// parallel but wait for an in-flight write. Databases are locked across
// processes with flock(2) unless ONoLock is given.
package idb
