// Package storage keeps reconciliation reports and partner statements in
// S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/tradeledger/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

const (
	defaultS3Endpoint      = "http://localhost:9000"
	defaultS3Region        = "us-east-1"
	defaultPresignValidity = 15 * time.Minute
)

var (
	_ ObjectStore = (*S3Store)(nil)
	_ URLSigner   = (*S3Store)(nil)
)

// S3Store is an ObjectStore on AWS S3 or a compatible server such as MinIO.
type S3Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	validity time.Duration
	logger   *zap.Logger
}

type S3Option func(*S3Store)

func WithLogger(logger *zap.Logger) S3Option {
	return func(s *S3Store) { s.logger = logger.Named("s3") }
}

// WithPresignExpiration overrides the default lifetime of signed URLs.
func WithPresignExpiration(d time.Duration) S3Option {
	return func(s *S3Store) {
		if d > 0 {
			s.validity = d
		}
	}
}

// NewS3Store builds a client from static credentials. Nothing is contacted
// until the first call; use EnsureBucket to fail fast at startup.
func NewS3Store(cfg *config.StorageConfig, opts ...S3Option) (*S3Store, error) {
	if cfg == nil {
		return nil, errors.New("storage: configuration is required")
	}
	switch {
	case cfg.Bucket == "":
		return nil, errors.New("storage: bucket is required")
	case cfg.AccessKey == "":
		return nil, errors.New("storage: access key is required")
	case cfg.SecretKey == "":
		return nil, errors.New("storage: secret key is required")
	}

	endpoint, err := s3Endpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = defaultS3Region
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.UsePathStyle
	})

	s := &S3Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
		validity: defaultPresignValidity,
		logger:   zap.NewNop(),
	}
	WithPresignExpiration(cfg.PresignExpiration)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// s3Endpoint adds a scheme to a bare host:port, following useSSL.
func s3Endpoint(raw string, useSSL bool) (string, error) {
	if raw == "" {
		return defaultS3Endpoint, nil
	}
	if !strings.Contains(raw, "://") {
		scheme := "http://"
		if useSSL {
			scheme = "https://"
		}
		raw = scheme + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("storage: invalid endpoint %q", raw)
	}
	return raw, nil
}

// isNotFound matches the missing-object and missing-bucket codes. Some
// S3-compatible servers answer HEAD with a bare 404 instead of a typed error.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

func (s *S3Store) Bucket() string { return s.bucket }

// EnsureBucket creates the bucket when it is missing.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("storage: head bucket %s: %w", s.bucket, err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou" {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("storage: create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("bucket created", zap.String("bucket", s.bucket))
	return nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return ErrKeyRequired
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	s.logger.Debug("object written", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}

// List returns every key under prefix in lexical order, following pagination.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var keys []string
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrKeyRequired
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	}
	return false, fmt.Errorf("storage: head %s: %w", key, err)
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// SignedURL presigns a GET for key. A non-positive ttl uses the store's
// configured validity.
func (s *S3Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, ErrKeyRequired
	}
	if ttl <= 0 {
		ttl = s.validity
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return req.URL, time.Now().Add(ttl), nil
}
