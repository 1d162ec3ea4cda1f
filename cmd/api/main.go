// Package main は API サーバーとワーカーのエントリーポイントです。
//
//	api serve [--workers]       HTTP API を起動（--workers で同一プロセス内にワーカーも起動）
//	api worker [--concurrency]  ワーカーだけを起動
//	api status <jobId>          ジョブの状態を JSON で表示
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/config"
	"github.com/yourusername/pdf-perfect/internal/logging"
)

// app はサブコマンド間で共有する設定とロガーです。
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "api",
		Short:         "Asynchronous PDF processing API and workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 設定の読み込み
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			a.cfg = cfg
			a.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.AddCommand(a.serveCmd())
	root.AddCommand(a.workerCmd())
	root.AddCommand(a.statusCmd())
	return root
}
