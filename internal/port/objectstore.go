package port

import (
	"context"
	"io"
)

type PutOptions struct {
	ContentType  string
	CacheControl string
}

type ObjectInfo struct {
	Size        int64
	ContentType string
}

type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, *ObjectInfo, error)
	Head(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
}
