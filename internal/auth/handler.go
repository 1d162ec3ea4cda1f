package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は POST /api/auth/login のハンドラーです。
// セッションを発行し、API 用の JWT を返します。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "username and password are required",
			"code":  "INVALID_INPUT",
		})
		return
	}

	if err := m.ensureCredentials(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
			"code":  "SERVER_MISCONFIGURATION",
		})
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		// Retry-After は秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "too many failed attempts, try again later",
			"code":  "TOO_MANY_ATTEMPTS",
		})
		return
	}

	if req.Username != m.cfg.AppUsername || !m.verifyPassword(req.Password) {
		remaining := m.recordFailure(ip)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid username or password",
			"code":              "INVALID_CREDENTIALS",
			"remainingAttempts": remaining,
		})
		return
	}

	m.resetAttempts(ip)

	csrf, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to generate CSRF token",
			"code":  "TOKEN_GENERATION_FAILED",
		})
		return
	}
	token, expiresAt, err := m.issueToken(m.cfg.AppUsername)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to issue access token",
			"code":  "TOKEN_GENERATION_FAILED",
		})
		return
	}

	session := sessions.Default(c)
	now := m.now()
	session.Set(sessionKeyUser, m.cfg.AppUsername)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, csrf)

	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to save session",
			"code":  "SESSION_SAVE_FAILED",
		})
		return
	}

	c.Header(csrfHeader, csrf)
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
}

// Logout は POST /api/auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to clear session",
			"code":  "SESSION_SAVE_FAILED",
		})
		return
	}
	c.Status(http.StatusNoContent)
}
