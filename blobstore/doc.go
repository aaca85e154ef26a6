// Package blobstore provides the storage targets for database backups.
//
// A backup is a set of immutable blobs, one per database file, written below
// a common prefix. [BlobStore] is implemented by
//
//   - [LocalStore]: a local directory, read through mmap
//   - [MemoryStore]: an in-memory map for tests
//   - s3.Store: Amazon S3 with multipart uploads and range reads
//   - minio.Store: MinIO and other S3-compatible servers
//
// [Upload] and [Download] stream whole blobs.
package blobstore
