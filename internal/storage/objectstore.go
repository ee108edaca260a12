package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectClient is the part of *minio.Client the object store uses.
type objectClient interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// ObjectStoreConfig holds the connection settings of an S3-compatible endpoint.
type ObjectStoreConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PublicBase string // browser-accessible base URL, e.g. "http://localhost:9000/gallery"
}

// ObjectStore is the remote object store backend. It works with MinIO and any
// S3-compatible provider (Supabase storage, ArvanCloud, AWS S3); switching
// provider is a matter of endpoint and credentials.
type ObjectStore struct {
	client     objectClient
	bucket     string
	publicBase string
}

// NewObjectStore creates a MinIO client, ensures the bucket exists with a
// public-read policy, and returns a ready-to-use ObjectStore.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig, log *slog.Logger) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		log.Info("created bucket", slog.String("bucket", cfg.Bucket))
	}

	if err := client.SetBucketPolicy(ctx, cfg.Bucket, publicReadPolicy(cfg.Bucket)); err != nil {
		return nil, fmt.Errorf("set bucket policy: %w", err)
	}

	return newObjectStore(client, cfg.Bucket, cfg.PublicBase), nil
}

func newObjectStore(client objectClient, bucket, publicBase string) *ObjectStore {
	return &ObjectStore{
		client:     client,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

// Kind implements Backend.
func (s *ObjectStore) Kind() Kind { return KindObjectStore }

// Put uploads data under path. Re-uploading a path overwrites it.
func (s *ObjectStore) Put(ctx context.Context, path string, data []byte, contentType string) (Object, error) {
	key, err := cleanPath(path)
	if err != nil {
		return Object{}, err
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object %q: %w", key, err)
	}
	return Object{
		Kind:      KindObjectStore,
		Path:      key,
		Locator:   s.PublicURL(key),
		ObjectID:  key,
		CreatedAt: info.LastModified,
	}, nil
}

// Delete removes the object at path. S3 treats a missing key as success;
// a NoSuchKey response from stricter gateways is mapped to success too.
func (s *ObjectStore) Delete(ctx context.Context, path string) error {
	err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("remove object %q: %w", path, err)
	}
	return nil
}

// PublicURL returns the browser-accessible URL for the given key.
// For local MinIO: "http://localhost:9000/gallery/public/beach/sunset_1a2b3c4d5e6f.jpg"
func (s *ObjectStore) PublicURL(key string) string {
	return s.publicBase + "/" + escapePath(key)
}

// PathFromLocator implements Backend.
func (s *ObjectStore) PathFromLocator(locator string) (string, bool) {
	return locatorPath(s.publicBase, locator)
}

// List returns every object under prefix, in key order.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]Object, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects %q: %w", prefix, info.Err)
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}
		out = append(out, Object{
			Kind:      KindObjectStore,
			Path:      info.Key,
			Locator:   s.PublicURL(info.Key),
			ObjectID:  info.Key,
			CreatedAt: info.LastModified,
		})
	}
	return out, nil
}

// publicReadPolicy returns an S3 bucket policy JSON that allows anonymous GET on all objects.
func publicReadPolicy(bucket string) string {
	policy := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
