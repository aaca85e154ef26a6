// Package s3 stores database backups in Amazon S3.
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("backups/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
// Backup files are streamed with multipart uploads and CRC32C checksums;
// restores read them back with ranged GETs.
package s3
