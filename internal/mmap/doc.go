// Package mmap provides read-only memory-mapped access to snapshot files.
//
// The document store and the inverted index map their immutable snapshot files
// and decode records and postings straight from the mapped bytes:
//
//	m, err := mmap.Open("docs.snap")
//	if err != nil { ... }
//	defer m.Close()
//
//	rec, err := m.Section(off, n)
//
// Mapping is safe for concurrent reads. Close is idempotent, but callers must
// make sure nothing touches Bytes or Section results after Close returns.
package mmap
