// Package s3 stores export files in an S3-compatible bucket via minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rmp4/sql-agent-dashboard/internal/storage"
)

const defaultLinkExpiry = 15 * time.Minute

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// bucketAPI is the part of the minio client the store relies on, already
// bound to one bucket.
type bucketAPI interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error)
	RemoveObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	PresignedGetObject(ctx context.Context, key string, expiry time.Duration) (string, error)
	BucketExists(ctx context.Context) (bool, error)
	MakeBucket(ctx context.Context, region string) error
}

type Store struct {
	api    bucketAPI
	bucket string
	keys   keyspace
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	store := newStore(bucket, cfg.Prefix, &minioBucket{client: client, bucket: bucket})
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newStore(bucket, prefix string, api bucketAPI) *Store {
	return &Store{api: api, bucket: bucket, keys: newKeyspace(prefix)}
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	full, err := s.keys.full(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.PutObject(ctx, full, body, size, opts.ContentType)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload %s/%s: %w", s.bucket, full, err)
	}
	info.Key = s.keys.relative(info.Key)
	return info, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := s.keys.full(key)
	if err != nil {
		return err
	}
	err = s.api.RemoveObject(ctx, full)
	if err == nil || errors.Is(err, storage.ErrObjectNotFound) {
		return nil
	}
	return fmt.Errorf("remove %s/%s: %w", s.bucket, full, err)
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	full := s.keys.prefix(prefix)
	objects, err := s.api.ListObjects(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", s.bucket, full, err)
	}
	for i := range objects {
		objects[i].Key = s.keys.relative(objects[i].Key)
	}
	sort.SliceStable(objects, func(i, j int) bool {
		a, b := objects[i], objects[j]
		if a.LastModified.Equal(b.LastModified) {
			return a.Key > b.Key
		}
		return a.LastModified.After(b.LastModified)
	})
	return objects, nil
}

func (s *Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	full, err := s.keys.full(key)
	if err != nil {
		return "", err
	}
	if expiry <= 0 {
		expiry = defaultLinkExpiry
	}
	link, err := s.api.PresignedGetObject(ctx, full, expiry)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", s.bucket, full, err)
	}
	return link, nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.api.BucketExists(ctx)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, region); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// keyspace maps export keys to object names below an optional root.
type keyspace struct {
	root string
}

func newKeyspace(root string) keyspace {
	root = path.Clean("/" + strings.TrimSpace(root))
	return keyspace{root: strings.TrimPrefix(root, "/")}
}

func (k keyspace) full(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("object key %q escapes the export root", key)
	}
	return path.Join(k.root, cleaned), nil
}

// prefix keeps a trailing slash so listing exports/a/ never matches exports/ab/.
func (k keyspace) prefix(p string) string {
	p = strings.TrimLeft(strings.TrimSpace(p), "/")
	if k.root == "" {
		return p
	}
	return k.root + "/" + p
}

func (k keyspace) relative(name string) string {
	if k.root == "" {
		return name
	}
	return strings.TrimPrefix(name, k.root+"/")
}

// splitEndpoint accepts either host:port or a URL. An https URL forces TLS.
func splitEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("s3 endpoint %q has no host", raw)
	}
	return parsed.Host, useSSL || parsed.Scheme == "https", nil
}

type minioBucket struct {
	client *minio.Client
	bucket string
}

func (m *minioBucket) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	uploaded, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return storage.ObjectInfo{}, translate(err)
	}
	return storage.ObjectInfo{Key: uploaded.Key, Size: uploaded.Size, ETag: uploaded.ETag, LastModified: uploaded.LastModified}, nil
}

func (m *minioBucket) RemoveObject(ctx context.Context, key string) error {
	return translate(m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}))
}

func (m *minioBucket) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	objects := make([]storage.ObjectInfo, 0)
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, translate(object.Err)
		}
		objects = append(objects, storage.ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			ETag:         object.ETag,
			LastModified: object.LastModified,
		})
	}
	return objects, nil
}

func (m *minioBucket) PresignedGetObject(ctx context.Context, key string, expiry time.Duration) (string, error) {
	link, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", translate(err)
	}
	return link.String(), nil
}

func (m *minioBucket) BucketExists(ctx context.Context) (bool, error) {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	return exists, translate(err)
}

func (m *minioBucket) MakeBucket(ctx context.Context, region string) error {
	return translate(m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region}))
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return storage.ErrObjectNotFound
	}
	return err
}
