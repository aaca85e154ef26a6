// Package invindex implements the inverted index mapping searchable units to
// the ids of the documents containing them.
//
// An [Index] consists of an immutable snapshot file and an in-memory delta.
// The snapshot holds the units in sorted order followed by an offset table,
// so point lookups and prefix scans binary search the mapped file without
// decoding it. Postings are serialized roaring64 bitmaps and are therefore
// always in ascending id order.
//
// The delta records, per unit, the ids added and removed since the snapshot
// was written. A lookup returns (snapshot \ removed) ∪ added. [Index.Checkpoint]
// folds the delta into a new snapshot which replaces the old one atomically.
//
// File layout (little endian):
//
//	header  magic[8] version u32 reserved u32 lsn u64
//	entries { uvarint keyLen, key, uvarint postLen, postings }*
//	table   count × u64 entry offset
//	footer  tableOffset u64 count u64 crc32 u32 magic u32
package invindex
