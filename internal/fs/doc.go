// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: Represents an open file with read/write/sync capabilities
//   - [FileSystem]: Abstracts filesystem operations (open, remove, rename, etc.)
//
// # Implementations
//
//   - [LocalFS]: Production implementation using standard os package
//   - [FaultyFS]: Test utility for fault injection (simulate I/O errors)
//
// Snapshot files are replaced with [WriteAtomic]: the new content is written to
// a temporary sibling, synced and renamed over the old file.
//
// Cross-process exclusion uses advisory flock(2) locks, see [AcquireLock].
//
// Tests can inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("journal", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
package fs
