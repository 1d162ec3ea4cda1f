package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/config"
)

func (a *app) workerCmd() *cobra.Command {
	var (
		concurrency int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start a standalone worker process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency <= 0 {
				concurrency = a.cfg.WorkerConcurrency
			}
			return a.runWorker(cmd.Context(), concurrency, metricsAddr)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of jobs processed at once (default WORKER_CONCURRENCY)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address, e.g. :9091")
	return cmd
}

func (a *app) runWorker(ctx context.Context, concurrency int, metricsAddr string) error {
	if a.cfg.QueueDriver != config.QueueDriverRedis {
		return fmt.Errorf("the worker command requires QUEUE_DRIVER=%s; use `serve --workers` for the memory driver", config.QueueDriverRedis)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, a.cfg, a.log, concurrency)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.startWorkers(); err != nil {
		return err
	}

	var metricsServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Handler())
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	a.log.Info("worker running", zap.Int("concurrency", concurrency))
	<-ctx.Done()
	a.log.Info("shutting down worker")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}
