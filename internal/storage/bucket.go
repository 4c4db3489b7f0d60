// Package storage provides object storage for sealed evidence and mission
// design references.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/Jarvis2021/gantry-sub000/internal/evidence"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Bucket is an S3-compatible bucket. It mirrors evidence and serves design
// references uploaded under designs/<mission_id>/.
type Bucket struct {
	client *minio.Client
	name   string
	region string

	initOnce sync.Once
	initErr  error
}

var (
	_ evidence.Mirror       = (*Bucket)(nil)
	_ evidence.DesignSource = (*Bucket)(nil)
)

// NewBucket creates a Bucket from configuration. No request is made until
// first use.
func NewBucket(cfg config.StorageConfig) (*Bucket, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("storage endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey.Value())
	if access == "" || secret == "" {
		return nil, errors.New("storage access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	return &Bucket{client: client, name: bucket, region: region}, nil
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

func (b *Bucket) ensureBucket(ctx context.Context) error {
	b.initOnce.Do(func() {
		exists, err := b.client.BucketExists(ctx, b.name)
		if err != nil {
			b.initErr = err
			return
		}
		if exists {
			return
		}
		b.initErr = b.client.MakeBucket(ctx, b.name, minio.MakeBucketOptions{Region: b.region})
	})
	return b.initErr
}

// Put stores data under key.
func (b *Bucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return errors.New("object key is required")
	}
	if err := b.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := b.client.PutObject(ctx, b.name, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// Get fetches the object at key. Missing objects yield evidence.ErrNotFound.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := b.client.GetObject(ctx, b.name, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, evidence.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// DesignReference returns the first design-reference.<ext> object stored
// for the mission.
func (b *Bucket) DesignReference(ctx context.Context, missionID string) (string, []byte, error) {
	for _, ext := range evidence.DesignReferenceExtensions {
		name := evidence.DesignReferenceBase + ext
		data, err := b.Get(ctx, DesignKey(missionID, name))
		if errors.Is(err, evidence.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("fetch design reference: %w", err)
		}
		return name, data, nil
	}
	return "", nil, evidence.ErrNotFound
}

// DesignKey returns the object key of a mission's design reference.
func DesignKey(missionID, name string) string {
	return "designs/" + strings.TrimSpace(missionID) + "/" + name
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}
