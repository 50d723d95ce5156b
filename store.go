package flashsim

import (
	"context"

	"github.com/hupe1980/flashsim/imagestore"
	"github.com/hupe1980/flashsim/imagestore/minio"
	"github.com/hupe1980/flashsim/imagestore/s3"
)

// OpenStore returns the image store described by cfg, or nil if images are
// disabled.
func OpenStore(ctx context.Context, cfg ImageConfig) (imagestore.Store, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	switch cfg.Backend {
	case BackendS3:
		return s3.New(ctx, cfg.Bucket,
			s3.WithPrefix(cfg.Prefix),
			s3.WithRegion(cfg.Region),
			s3.WithEndpoint(cfg.Endpoint),
			s3.WithPathStyle(cfg.PathStyle),
		)
	case BackendMinIO:
		return minio.New(cfg.Endpoint, !cfg.Insecure, cfg.Bucket, cfg.Prefix)
	default:
		return imagestore.NewLocalStore(cfg.Dir), nil
	}
}
