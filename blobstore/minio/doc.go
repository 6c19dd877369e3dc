// Package minio provides a blobstore.Store implementation for MinIO and
// other S3-compatible object stores, using the native MinIO client.
//
// # Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds: credentials.NewStaticV4(accessKey, secretKey, ""),
//	})
//	store := miniostore.NewStore(client, "sketches", "prod/")
package minio
