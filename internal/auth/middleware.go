package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

// Sessions はクッキーセッションのミドルウェアを返します。
func Sessions(secret string, secure bool) gin.HandlerFunc {
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	return sessions.Sessions(SessionCookieName, store)
}

// RequireAuth は保護する API 用のミドルウェアです。
// Authorization: Bearer の JWT があればそれを検証し、なければセッションと CSRF トークンを検証します。
// 認証が無効な場合は何もしません。
func (m *Manager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		if raw, ok := bearerToken(c.GetHeader("Authorization")); ok {
			user, err := m.parseToken(raw)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "invalid or expired token",
					"code":  "UNAUTHORIZED",
				})
				return
			}
			c.Set(ContextUserKey, user)
			c.Next()
			return
		}

		if !m.checkSession(c) {
			return
		}
		if !m.checkCSRF(c) {
			return
		}
		c.Next()
	}
}

// checkSession はセッションの有効期限と無操作時間を検証します。失敗時はレスポンスを書いて false を返します。
func (m *Manager) checkSession(c *gin.Context) bool {
	session := sessions.Default(c)
	user, ok := session.Get(sessionKeyUser).(string)
	if !ok || user == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "login required",
			"code":  "UNAUTHORIZED",
		})
		return false
	}

	now := m.now()
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	lastActive := readUnix(session.Get(sessionKeyLastActive))

	if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
		session.Clear()
		_ = session.Save()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "session expired",
			"code":  "SESSION_EXPIRED",
		})
		return false
	}

	if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
		session.Clear()
		_ = session.Save()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "session timed out due to inactivity",
			"code":  "SESSION_IDLE_TIMEOUT",
		})
		return false
	}

	session.Set(sessionKeyLastActive, now.Unix())
	_ = session.Save()
	c.Set(ContextUserKey, user)
	return true
}

// checkCSRF は状態を変更するリクエストの X-CSRF-Token を検証します。
func (m *Manager) checkCSRF(c *gin.Context) bool {
	if isSafeMethod(c.Request.Method) {
		return true
	}

	session := sessions.Default(c)
	expected, ok := session.Get(sessionKeyCSRF).(string)
	if !ok || expected == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "CSRF token is not set",
			"code":  "CSRF_MISSING",
		})
		return false
	}

	received := c.GetHeader(csrfHeader)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "CSRF token mismatch",
			"code":  "CSRF_INVALID",
		})
		return false
	}
	return true
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
