package gateway

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/punchamoorthee/dropledger/internal/config"
	"github.com/punchamoorthee/dropledger/internal/domain"
)

// ObjectStore addresses listing files and covers in one bucket.
type ObjectStore struct {
	client  *minio.Client
	bucket  string
	linkTTL time.Duration
	now     func() time.Time
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage client: %w", err)
	}
	return &ObjectStore{client: c, bucket: cfg.Bucket, linkTTL: cfg.LinkTTL, now: time.Now}, nil
}

func (o *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := o.client.StatObject(ctx, o.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", key, err)
}

// Remove deletes key. Removing an absent key succeeds.
func (o *ObjectStore) Remove(ctx context.Context, key string) error {
	if err := o.client.RemoveObject(ctx, o.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (o *ObjectStore) PresignGet(ctx context.Context, key string) (domain.ContentLink, error) {
	u, err := o.client.PresignedGetObject(ctx, o.bucket, key, o.linkTTL, url.Values{})
	if err != nil {
		return domain.ContentLink{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return domain.ContentLink{URL: u.String(), ExpiresAt: o.now().Add(o.linkTTL).UTC()}, nil
}
