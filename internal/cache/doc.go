// Package cache provides the record and leaf caches of a database handle.
//
// [LRU] is generic over key and value and bounded by a cost function:
//
//   - the record cache maps document ids to texts and is bounded by bytes,
//     charged against the handle's resource controller;
//   - the leaf cache maps dictionary units to decoded postings and is bounded
//     by entry count.
//
// Writers invalidate affected entries before releasing the database lock, so
// readers never observe a stale record or postings list.
package cache
