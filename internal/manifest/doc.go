// Package manifest persists the META file of a database directory.
//
// The manifest records the format version, the tuning chosen at creation time
// and the journal position each snapshot covers. Opening a database compares
// the snapshot positions to detect an index that lags behind the documents.
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x49444231 ("IDB1")
//	  Version  (4 bytes) - Format version (currently 1)
//	  Checksum (4 bytes) - CRC32-IEEE of payload
//	  Length   (4 bytes) - Payload length in bytes
//
//	Payload:
//	  CreatedAt   (8 bytes) - Unix nanoseconds
//	  UpdatedAt   (8 bytes) - Unix nanoseconds
//	  BucketCount (8 bytes)
//	  AlignPower  (4 bytes)
//	  FreePower   (4 bytes)
//	  Options     (4 bytes)
//	  QGramSize   (4 bytes)
//	  DocsLSN     (8 bytes)
//	  QGramLSN    (8 bytes)
//	  TokenLSN    (8 bytes)
//	  Records     (8 bytes)
//	  Label       (string)
//
// Strings are length-prefixed (2-byte length + bytes).
//
// The file is replaced atomically (write temp, fsync, rename), so a crash
// leaves either the previous or the new manifest.
package manifest
