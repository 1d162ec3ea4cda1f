// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// キュー・ストレージ・ライブステータスのドライバー名
const (
	QueueDriverRedis  = "redis"
	QueueDriverMemory = "memory"

	StorageDriverS3    = "s3"
	StorageDriverMinio = "minio"
	StorageDriverLocal = "local"

	LiveModePoll   = "poll"
	LiveModePubSub = "pubsub"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // json または console

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// アップロード制限
	MaxUploadBytes  int64 // multipart リクエスト全体の最大サイズ（バイト）
	UploadRateLimit int   // IP ごとの 1 分あたりアップロード回数（0 で無効）

	// ジョブ/キュー設定
	QueueDriver           string        // redis または memory
	QueueRedisURL         string        // Asynq とジョブレコード用の Redis 接続URL
	QueueName             string        // Asynq のキュー名
	WorkerConcurrency     int           // ワーカー 1 プロセスあたりの同時実行数
	JobMaxAttempts        int           // ジョブの最大試行回数
	JobBackoffBase        time.Duration // リトライ間隔の基準値（試行ごとに倍）
	JobCompletedRetention time.Duration // 完了ジョブを保持する期間
	JobFailedRetention    time.Duration // 失敗ジョブを保持する期間

	// オブジェクトストレージ設定
	StorageDriver   string        // s3, minio, local
	S3Endpoint      string        // S3 互換エンドポイント（MinIO など）
	S3Region        string        // リージョン
	S3AccessKey     string        // アクセスキー
	S3SecretKey     string        // シークレットキー
	S3Bucket        string        // バケット名
	S3UseSSL        bool          // minio ドライバーで TLS を使うか
	LocalStorageDir string        // local ドライバーの保存先
	PublicBaseURL   string        // local ドライバーの署名URLに使う外部公開URL
	SignedURLTTL    time.Duration // ダウンロード用署名URLの有効期間

	// ライブステータス設定
	LiveStatusMode     string        // poll または pubsub
	LiveStatusInterval time.Duration // ポーリング間隔

	// イベント配信設定
	EventsAMQPURL  string // 空なら RabbitMQ への配信は行わない
	EventsExchange string // RabbitMQ の topic exchange 名

	// 認証設定
	AuthEnabled     bool   // true のときアップロード/ステータスAPIにログインを要求
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵
	JWTSecret       string // トークン・署名URL用の秘密鍵
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		MaxUploadBytes:  getEnvAsInt64("MAX_UPLOAD_BYTES", 50*1024*1024), // 50MB
		UploadRateLimit: getEnvAsInt("UPLOAD_RATE_LIMIT", 30),

		QueueDriver:           strings.ToLower(getEnv("QUEUE_DRIVER", QueueDriverRedis)),
		QueueRedisURL:         getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		QueueName:             getEnv("QUEUE_NAME", "pdf-processing"),
		WorkerConcurrency:     getEnvAsInt("WORKER_CONCURRENCY", 5),
		JobMaxAttempts:        getEnvAsInt("JOB_MAX_ATTEMPTS", 3),
		JobBackoffBase:        getEnvAsDuration("JOB_BACKOFF_BASE", time.Second),
		JobCompletedRetention: getEnvAsDuration("JOB_COMPLETED_RETENTION", time.Hour),
		JobFailedRetention:    getEnvAsDuration("JOB_FAILED_RETENTION", 24*time.Hour),

		StorageDriver:   strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverS3)),
		S3Endpoint:      getEnv("S3_ENDPOINT", "http://localhost:9000"),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3AccessKey:     getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:     getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:        getEnv("S3_BUCKET", "pdf-storage"),
		S3UseSSL:        getEnvAsBool("S3_USE_SSL", false),
		LocalStorageDir: getEnv("LOCAL_STORAGE_DIR", filepath.Join(os.TempDir(), "pdf-perfect")),
		PublicBaseURL:   getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		SignedURLTTL:    getEnvAsDuration("SIGNED_URL_TTL", time.Hour),

		LiveStatusMode:     strings.ToLower(getEnv("LIVE_STATUS_MODE", LiveModePoll)),
		LiveStatusInterval: getEnvAsDuration("LIVE_POLL_INTERVAL", 2*time.Second),

		EventsAMQPURL:  getEnv("EVENTS_AMQP_URL", ""),
		EventsExchange: getEnv("EVENTS_EXCHANGE", "pdf.jobs"),

		AuthEnabled:     getEnvAsBool("AUTH_ENABLED", false),
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),
		JWTSecret:       getEnv("JWT_SECRET", "super-secret-jwt-key"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.QueueDriver {
	case QueueDriverRedis, QueueDriverMemory:
	default:
		return fmt.Errorf("QUEUE_DRIVER must be %q or %q (got %q)", QueueDriverRedis, QueueDriverMemory, c.QueueDriver)
	}
	switch c.StorageDriver {
	case StorageDriverS3, StorageDriverMinio, StorageDriverLocal:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of s3, minio, local (got %q)", c.StorageDriver)
	}
	switch c.LiveStatusMode {
	case LiveModePoll:
	case LiveModePubSub:
		if c.QueueDriver != QueueDriverRedis {
			return fmt.Errorf("LIVE_STATUS_MODE=pubsub requires QUEUE_DRIVER=redis")
		}
	default:
		return fmt.Errorf("LIVE_STATUS_MODE must be %q or %q (got %q)", LiveModePoll, LiveModePubSub, c.LiveStatusMode)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.JobMaxAttempts <= 0 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be positive")
	}
	if c.QueueDriver == QueueDriverRedis && c.QueueRedisURL == "" {
		return fmt.Errorf("QUEUE_REDIS_URL is required for the redis queue driver")
	}

	if c.AuthEnabled {
		if c.AppUsername == "" || c.AppPasswordHash == "" {
			return fmt.Errorf("APP_USERNAME and APP_PASSWORD_HASH are required when AUTH_ENABLED=true")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required when AUTH_ENABLED=true")
		}
	}

	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.JWTSecret == "" || c.JWTSecret == "super-secret-jwt-key" {
			return fmt.Errorf("JWT_SECRET must be set to a non-default value in release mode")
		}
		if c.StorageDriver != StorageDriverLocal && (c.S3AccessKey == "" || c.S3SecretKey == "") {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required in release mode")
		}
	}

	return nil
}

// CORSOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) CORSOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "1500ms" のような Go の表記か、単位なしのミリ秒を受け付けます。
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	if ms, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
