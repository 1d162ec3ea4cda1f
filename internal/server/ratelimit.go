package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig はアップロードのレート制限の設定です。
// Redis があれば全 API プロセスで共有する固定ウィンドウ、なければプロセス内のトークンバケットを使います。
type RateLimitConfig struct {
	Redis     redis.UniversalClient
	Limit     int
	Window    time.Duration
	KeyPrefix string
	Logger    *zap.Logger
}

// NewRateLimiter はクライアント IP ごとのレート制限ミドルウェアを返します。Limit が 0 以下なら制限しません。
func NewRateLimiter(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:upload:"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Redis != nil {
		return redisLimiter(cfg)
	}
	return newLocalLimiter(cfg).handle
}

func redisLimiter(cfg RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := cfg.KeyPrefix + c.ClientIP()

		// SET NX EX で期限付きのキーを用意してから数えるので、期限のないカウンタは残らない
		pipe := cfg.Redis.TxPipeline()
		pipe.SetNX(ctx, key, 0, cfg.Window)
		incr := pipe.Incr(ctx, key)
		ttlCmd := pipe.TTL(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			// Redis 障害時はアップロードを止めない
			cfg.Logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		count := incr.Val()
		ttl := ttlCmd.Val()
		if ttl < 0 {
			if err := cfg.Redis.Expire(ctx, key, cfg.Window).Err(); err != nil {
				cfg.Logger.Warn("failed to set rate limit window", zap.String("key", key), zap.Error(err))
			}
			ttl = cfg.Window
		}
		reset := int(ttl.Seconds())
		if reset < 0 {
			reset = 0
		}

		remaining := cfg.Limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		setRateHeaders(c, cfg.Limit, remaining, reset)

		if count > int64(cfg.Limit) {
			rejectRateLimited(c, cfg, reset)
			return
		}
		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type localLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	visitors map[string]*visitor
}

func newLocalLimiter(cfg RateLimitConfig) *localLimiter {
	return &localLimiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
	}
}

func (l *localLimiter) handle(c *gin.Context) {
	limiter := l.get(c.ClientIP())
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		reset := int(delay.Seconds()) + 1
		setRateHeaders(c, l.cfg.Limit, 0, reset)
		rejectRateLimited(c, l.cfg, reset)
		return
	}

	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	setRateHeaders(c, l.cfg.Limit, remaining, int(l.cfg.Window.Seconds()))
	c.Next()
}

func (l *localLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if v, ok := l.visitors[ip]; ok {
		v.lastSeen = now
		return v.limiter
	}

	// 長く来ていないクライアントのバケットは満タンなので捨ててよい
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.cfg.Window {
			delete(l.visitors, key)
		}
	}

	limiter := rate.NewLimiter(rate.Every(l.cfg.Window/time.Duration(l.cfg.Limit)), l.cfg.Limit)
	l.visitors[ip] = &visitor{limiter: limiter, lastSeen: now}
	return limiter
}

func setRateHeaders(c *gin.Context, limit, remaining, reset int) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Reset", strconv.Itoa(reset))
}

func rejectRateLimited(c *gin.Context, cfg RateLimitConfig, reset int) {
	c.Header("Retry-After", strconv.Itoa(reset))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":      "rate limit exceeded",
		"code":       "RATE_LIMITED",
		"limit":      cfg.Limit,
		"window":     cfg.Window.String(),
		"retryAfter": reset,
	})
}
