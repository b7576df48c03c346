package minio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bnema/dither/internal/domain"
	"github.com/bnema/dither/internal/port"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Client adapts minio to the ObjectStore port. Buckets are owned by the
// upload pipeline; the worker only reads originals and writes derivatives.
type Client struct {
	client *minio.Client
}

func NewClient(cfg *Config) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Client{client: client}, nil
}

func (c *Client) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, opts port.PutOptions) error {
	_, err := c.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, bucket, key string) (io.ReadCloser, *port.ObjectInfo, error) {
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}

	// GetObject is lazy; Stat forces the request so missing keys surface here.
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, nil, fmt.Errorf("get %s/%s: %w", bucket, key, domain.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}

	return obj, &port.ObjectInfo{Size: stat.Size, ContentType: stat.ContentType}, nil
}

func (c *Client) Head(ctx context.Context, bucket, key string) (*port.ObjectInfo, error) {
	stat, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("head %s/%s: %w", bucket, key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("head %s/%s: %w", bucket, key, err)
	}
	return &port.ObjectInfo{Size: stat.Size, ContentType: stat.ContentType}, nil
}

func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.Head(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

var _ port.ObjectStore = (*Client)(nil)
