// Package storage はアップロードされた PDF と処理結果を保存するオブジェクトストレージ層です。
//
// ドライバー:
//   - s3:    aws-sdk-go-v2 による S3 互換ストレージ（署名付きURLは presign）
//   - minio: minio-go による MinIO
//   - local: ローカルファイルシステム（署名付きURLは JWT で API が配信）
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound は指定したキーのオブジェクトが存在しないことを表します。
var ErrNotFound = errors.New("object not found")

// Store はキー単位で不透明なバイト列を保存・取得します。
// 同じキーへの Put は上書き（後勝ち）です。
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
