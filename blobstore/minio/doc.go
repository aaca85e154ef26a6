// Package minio stores database backups on MinIO and other S3-compatible
// servers (Ceph, Garage, SeaweedFS) through the MinIO client.
//
//	store, err := minio.New(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "idb",
//	    Prefix:    "backups/",
//	})
package minio
