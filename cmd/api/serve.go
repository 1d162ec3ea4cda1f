package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/auth"
	"github.com/yourusername/pdf-perfect/internal/config"
	"github.com/yourusername/pdf-perfect/internal/server"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var embedWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context(), embedWorkers)
		},
	}
	cmd.Flags().BoolVar(&embedWorkers, "workers", false, "also run a worker pool inside the API process")
	return cmd
}

func (a *app) runServe(ctx context.Context, embedWorkers bool) error {
	cfg := a.cfg
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, cfg, a.log, cfg.WorkerConcurrency)
	if err != nil {
		return err
	}
	defer d.Close()

	// memory ドライバーはプロセス内でしかジョブを共有できない
	if cfg.QueueDriver == config.QueueDriverMemory {
		embedWorkers = true
	}
	if embedWorkers {
		if err := d.startWorkers(); err != nil {
			return err
		}
	}

	srv := server.New(server.Options{
		Config:  cfg,
		Queue:   d.queue,
		Storage: d.store,
		Live:    d.live,
		Metrics: d.metrics,
		Auth:    auth.NewManager(cfg),
		Limiter: server.NewRateLimiter(server.RateLimitConfig{
			Redis:  d.rdb,
			Limit:  cfg.UploadRateLimit,
			Window: time.Minute,
			Logger: a.log,
		}),
		Files:  d.files,
		Logger: a.log,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting API server",
			zap.String("addr", httpServer.Addr),
			zap.String("mode", cfg.GinMode),
			zap.String("queue", cfg.QueueDriver),
			zap.String("storage", cfg.StorageDriver),
			zap.Bool("workers", embedWorkers),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutting down API server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown did not complete", zap.Error(err))
	}
	// 処理中のジョブは d.Close 内の Shutdown で待つ
	return nil
}
