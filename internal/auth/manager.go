// Package auth は任意で有効にできるログインと API の保護を提供します。
// ブラウザはセッションクッキー（+ CSRF トークン）、それ以外は Bearer JWT で認証します。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/pdf-perfect/internal/config"
)

const (
	SessionCookieName    = "pp_session"
	sessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader  = "X-CSRF-Token"
	tokenIssuer = "pdf-perfect"
)

var (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
	loginWindow        = 15 * time.Minute
	lockDuration       = 10 * time.Minute
	maxLoginAttempts   = 5
)

var errInvalidToken = errors.New("invalid token")

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// ContextUserKey は、ハンドラー間でログイン済みユーザー名を共有するためのキーです。
const ContextUserKey = "auth.user"

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	cfg      *config.Config
	now      func() time.Time
	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:      cfg,
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

// Enabled は認証が有効かどうかを返します。
func (m *Manager) Enabled() bool {
	return m.cfg.AuthEnabled
}

func (m *Manager) ensureCredentials() error {
	if m.cfg.AppUsername == "" {
		return errors.New("APP_USERNAME is not set")
	}
	if m.cfg.AppPasswordHash == "" {
		return errors.New("APP_PASSWORD_HASH is not set")
	}
	if m.cfg.SessionSecret == "" {
		return errors.New("SESSION_SECRET is not set")
	}
	if m.cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	return nil
}

func (m *Manager) verifyPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(m.cfg.AppPasswordHash), []byte(password)) == nil
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := m.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}

	remaining := maxLoginAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}

// issueToken はユーザー名を subject にした HS256 の JWT を発行します。
func (m *Manager) issueToken(user string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(maxSessionLifetime)
	claims := jwt.RegisteredClaims{
		Subject:   user,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// parseToken は JWT を検証してユーザー名を返します。
func (m *Manager) parseToken(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(m.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	if claims.Subject != m.cfg.AppUsername {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
