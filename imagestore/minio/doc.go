// Package minio provides an imagestore.Store implementation using the MinIO
// client. It works with MinIO and other S3-compatible storage systems such as
// Ceph, SeaweedFS and Garage, without pulling in the AWS SDK.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioimg.NewStore(client, "my-bucket", "flashsim/")
//	res, err := flashsim.Simulate(ctx, cfg, flashsim.WithStore(store))
package minio
