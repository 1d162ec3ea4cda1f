// Package server は HTTP API（アップロード、ステータス、ライブステータス、ダウンロード）を提供します。
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/auth"
	"github.com/yourusername/pdf-perfect/internal/config"
	"github.com/yourusername/pdf-perfect/internal/jobs"
	"github.com/yourusername/pdf-perfect/internal/live"
	"github.com/yourusername/pdf-perfect/internal/logging"
	"github.com/yourusername/pdf-perfect/internal/metrics"
	"github.com/yourusername/pdf-perfect/internal/storage"
)

// ServiceName はヘルスチェックで返すサービス名です。
const ServiceName = "pdf-perfect-api"

// Options はルーターの組み立てに必要な依存関係です。
// Metrics / Auth / Limiter / Files は nil でも構いません。
type Options struct {
	Config  *config.Config
	Queue   jobs.Queue
	Storage storage.Store
	Live    live.Subscriber
	Metrics *metrics.Metrics
	Auth    *auth.Manager
	Limiter gin.HandlerFunc
	Files   *storage.LocalStore
	Logger  *zap.Logger
}

// Server は HTTP ハンドラーとその依存関係をまとめた構造体です。
type Server struct {
	cfg      *config.Config
	queue    jobs.Queue
	store    storage.Store
	live     live.Subscriber
	files    *storage.LocalStore
	log      *zap.Logger
	started  time.Time
	upgrader websocket.Upgrader
	engine   *gin.Engine
}

// New はルーティングを設定した Server を作成します。
func New(opts Options) *Server {
	s := &Server{
		cfg:     opts.Config,
		queue:   opts.Queue,
		store:   opts.Storage,
		live:    opts.Live,
		files:   opts.Files,
		log:     logging.Component(opts.Logger, "server"),
		started: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.engine = s.routes(opts)
	return s
}

// Handler は http.Server に渡すハンドラーを返します。
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes(opts Options) *gin.Engine {
	router := gin.New()
	router.Use(logging.AccessLog(opts.Logger), gin.CustomRecovery(s.recoverPanic))
	if opts.Metrics != nil {
		router.Use(opts.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	router.Use(cors.New(s.corsConfig()))

	authEnabled := opts.Auth != nil && opts.Auth.Enabled()
	if authEnabled {
		router.Use(auth.Sessions(s.cfg.SessionSecret, s.cfg.GinMode == gin.ReleaseMode))
	}

	guard := func(c *gin.Context) { c.Next() }
	if authEnabled {
		guard = opts.Auth.RequireAuth()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = func(c *gin.Context) { c.Next() }
	}

	// 誰でも叩けるヘルスチェック
	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		if authEnabled {
			authRoutes := api.Group("/auth")
			authRoutes.POST("/login", opts.Auth.Login)
			authRoutes.POST("/logout", opts.Auth.Logout)
		}

		api.POST("/upload", guard, limiter, s.handleUpload)
		api.GET("/status/:jobId", guard, s.handleStatus)
		api.GET("/status/:jobId/events", guard, s.handleEvents)

		// 署名付きURLはトークン自体が認可なのでガードしない
		if s.files != nil {
			api.GET("/files/*key", s.handleFile)
		}
	}

	router.GET("/ws/status/:jobId", guard, s.handleWebSocket)
	return router
}

func (s *Server) corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	origins := s.cfg.CORSOrigins()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token",
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンとレート制限を読めるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"}
	return corsConfig
}

// checkOrigin は WebSocket のハンドシェイクで CORS と同じ許可リストを適用します。
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins() {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.started).Seconds(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   ServiceName,
	})
}
