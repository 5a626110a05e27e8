package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kyleking/askdb/internal/config"
)

// ErrObjectNotFound is returned by an ObjectClient for a missing key or bucket
var ErrObjectNotFound = errors.New("object not found")

// ObjectClient is the subset of an S3 client the schema store and evaluation sink need
type ObjectClient interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// S3Store reads schema documents from <bucket>/<prefix>/<name>.{json,yaml,yml}
type S3Store struct {
	client ObjectClient
	bucket string
	prefix string
}

// NewS3Store connects to the configured endpoint
func NewS3Store(cfg config.S3Config, prefix string) (*S3Store, error) {
	client, err := NewMinioClient(cfg)
	if err != nil {
		return nil, err
	}

	return NewS3StoreWithClient(client, cfg.Bucket, prefix)
}

// NewS3StoreWithClient builds a store over an existing client
func NewS3StoreWithClient(client ObjectClient, bucket, prefix string) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}

	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}

	return &S3Store{client: client, bucket: strings.TrimSpace(bucket), prefix: CleanPrefix(prefix)}, nil
}

// Fetch returns the first of name.json, name.yaml, name.yml present in the bucket
func (s *S3Store) Fetch(ctx context.Context, name string) (Document, error) {
	if err := ValidateName(name); err != nil {
		return Document{}, err
	}

	for _, e := range extensions {
		key := path.Join(s.prefix, name+e.ext)

		data, err := s.client.Get(ctx, s.bucket, key)
		if errors.Is(err, ErrObjectNotFound) {
			continue
		}

		if err != nil {
			return Document{}, fmt.Errorf("get schema object %q: %w", key, err)
		}

		return Document{
			Name:   name,
			Format: e.format,
			Data:   data,
			Source: "s3://" + s.bucket + "/" + key,
		}, nil
	}

	return Document{}, ErrSchemaNotFound
}

// List returns schema names found under the prefix
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}

	keys, err := s.client.List(ctx, s.bucket, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("list schema objects: %w", err)
	}

	return uniqueNames(keys, func(k string) (string, bool) {
		rel := strings.TrimPrefix(k, listPrefix)
		return rel, rel != "" && !strings.Contains(rel, "/")
	}), nil
}

// CleanPrefix normalizes an object key prefix
func CleanPrefix(prefix string) string {
	prefix = strings.TrimSpace(strings.TrimPrefix(prefix, "/"))
	if prefix == "" {
		return ""
	}

	prefix = path.Clean(prefix)
	if prefix == "." {
		return ""
	}

	return prefix
}

// MinioClient adapts minio-go to ObjectClient
type MinioClient struct {
	client *minio.Client
}

// NewMinioClient creates a client for the configured endpoint
func NewMinioClient(cfg config.S3Config) (*MinioClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return &MinioClient{client: client}, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("s3 endpoint is required")
	}

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}

		if parsed.Host == "" {
			return "", false, errors.New("endpoint host is required")
		}

		return parsed.Host, parsed.Scheme == "https", nil
	}

	return raw, useSSL, nil
}

func (m *MinioClient) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioErr(err)
	}

	return data, nil
}

func (m *MinioClient) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	return mapMinioErr(err)
}

func (m *MinioClient) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string

	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, mapMinioErr(obj.Err)
		}

		keys = append(keys, obj.Key)
	}

	return keys, nil
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}

	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return ErrObjectNotFound
		}
	}

	return err
}
