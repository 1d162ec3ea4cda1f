package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioConfig は MinIO への接続設定です。Endpoint は host:port 形式です。
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioStore は minio-go を使う Store です。
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
	log    *zap.Logger
}

// NewMinioStore は MinioStore を作成します。
func NewMinioStore(cfg MinioConfig, log *zap.Logger) (*MinioStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	endpoint, secure := minioEndpoint(cfg.Endpoint, cfg.UseSSL)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		log:    log.With(zap.String("component", "storage"), zap.String("driver", "minio")),
	}, nil
}

// EnsureBucket はバケットが無ければ作成します。開発環境の MinIO 向けです。
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.log.Info("bucket created", zap.String("bucket", s.bucket))
	return nil
}

// Put はオブジェクトを保存します。
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.log.Error("failed to upload object", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Get はオブジェクトを取得します。存在しない場合は ErrNotFound を返します。
func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(key, err)
	}
	defer obj.Close()

	// GetObject は遅延評価なので、存在しないキーのエラーは読み込み時に返る
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(key, err)
	}
	return data, nil
}

// SignedURL は ttl の間有効な GET 用の署名付きURLを返します。
func (s *MinioStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *MinioStore) mapError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("download %s: %w", key, err)
}

// minioEndpoint は http(s):// 付きの URL も受け付け、minio-go が要求する host:port に変換します。
func minioEndpoint(raw string, useSSL bool) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw, useSSL
	}
	return u.Host, useSSL || u.Scheme == "https"
}
