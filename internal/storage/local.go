package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// FilesRoutePrefix は local ドライバーの署名付きURLを配信する API のパスです。
const FilesRoutePrefix = "/api/files/"

// ErrInvalidToken は署名付きURLのトークンが不正か期限切れであることを表します。
var ErrInvalidToken = errors.New("invalid or expired download token")

// LocalStore はローカルディレクトリに保存する Store です（開発・単一ノード向け）。
// 署名付きURLは JWT をクエリに付けた API の URL で、API 側が Verify で検証して配信します。
type LocalStore struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
	log     *zap.Logger
}

// fileClaims は署名付きURLのトークンに載せるクレームです。
type fileClaims struct {
	Key string `json:"key"`
	jwt.RegisteredClaims
}

// NewLocalStore は LocalStore を作成し、保存先ディレクトリを作ります。
func NewLocalStore(root, baseURL, secret string, log *zap.Logger) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("storage directory is required")
	}
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
		log:     log.With(zap.String("component", "storage"), zap.String("driver", "local")),
	}, nil
}

// Put はファイルを一時ファイル経由で書き込み、rename で置き換えます。
func (s *LocalStore) Put(_ context.Context, key string, data []byte, _ string) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	s.log.Debug("object stored", zap.String("key", key), zap.Int("size", len(data)))
	return nil
}

// Get はファイルを読み込みます。存在しない場合は ErrNotFound を返します。
func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// SignedURL は ttl の間有効なダウンロードURLを返します。
func (s *LocalStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.path(key); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := s.now()
	claims := fileClaims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return s.baseURL + path.Join(FilesRoutePrefix, key) + "?token=" + url.QueryEscape(token), nil
}

// Verify はトークンが key に対して発行された有効なものか検証します。
func (s *LocalStore) Verify(key, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	var claims fileClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	if claims.Key != key {
		return ErrInvalidToken
	}
	return nil
}

// path はキーを保存先ディレクトリ配下のパスに変換します。ディレクトリ外を指すキーは拒否します。
func (s *LocalStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
