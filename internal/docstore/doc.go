// Package docstore persists document texts keyed by 64-bit ids.
//
// A [Store] combines an immutable, memory-mapped snapshot with an in-memory
// delta of puts and deletions. Records in the snapshot are encoded with the
// configured compression and aligned to a power of two. [Store.Checkpoint]
// merges both layers into a new snapshot and replaces the old file atomically;
// dead records are dropped in the process.
//
// File layout (little endian):
//
//	header  magic[8] version u32 flags u32 lsn u64 alignPower u32 reserved u32
//	records encoded records, each aligned to 1<<alignPower
//	table   count × { id u64, offset u32|u64, length u32 } sorted by id
//	footer  tableOffset u64 count u64 crc32 u32 magic u32
//
// Offsets are 64 bits wide when the snapshot is created with Large; otherwise
// a snapshot may not exceed 2 GiB.
package docstore
