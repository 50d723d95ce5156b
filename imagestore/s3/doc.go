// Package s3 provides an S3 implementation of the imagestore.Store interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("flashsim/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	res, err := flashsim.Simulate(ctx, cfg, flashsim.WithStore(store))
//
// Images are uploaded through the multipart upload manager, so large devices
// do not need to fit into a single PutObject request.
package s3
