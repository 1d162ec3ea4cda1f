// Package worker はキューから取り出したジョブを処理します。
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/jobs"
	"github.com/yourusername/pdf-perfect/internal/pdf"
	"github.com/yourusername/pdf-perfect/internal/storage"
)

// ImageKeyParam は画像の保存キーを入れる params のキーです。
const ImageKeyParam = "imageKey"

// outputContentType は成果物の Content-Type です。
const outputContentType = "application/pdf"

// Processor は 1 件のジョブについて、入力の取得・PDF 操作・成果物の保存を行います。
// リトライはキュー側のポリシーに任せ、ここではエラーを返すだけです。
type Processor struct {
	store    storage.Store
	registry *pdf.Registry
	log      *zap.Logger
}

// NewProcessor は Processor を作成します。
func NewProcessor(store storage.Store, registry *pdf.Registry, log *zap.Logger) *Processor {
	if registry == nil {
		registry = pdf.DefaultRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		store:    store,
		registry: registry,
		log:      log.With(zap.String("component", "worker")),
	}
}

// Handle は jobs.Handler として登録する処理本体です。
func (p *Processor) Handle(ctx context.Context, job *jobs.Job, progress jobs.ProgressFunc) (*jobs.Result, error) {
	started := time.Now()
	log := p.log.With(zap.String("job_id", job.ID), zap.Int("attempt", job.AttemptsMade))

	reportProgress(progress, stageDequeued, 10)

	input, err := p.fetch(ctx, job.Data.Key)
	if err != nil {
		return nil, err
	}
	log.Debug("input downloaded", zap.String("key", job.Data.Key), zap.Int("size", len(input)))
	reportProgress(progress, stageDownloaded, 30)

	name := job.Data.Operation
	if name == "" {
		name = job.Name
	}
	op, err := p.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	var image []byte
	if key, ok := job.Data.Params[ImageKeyParam].(string); ok && key != "" {
		if image, err = p.fetch(ctx, key); err != nil {
			return nil, err
		}
	}

	doc, err := pdf.Load(input)
	if err != nil {
		return nil, err
	}
	if err := op.Apply(ctx, doc, pdf.Input{Params: job.Data.Params, Image: image}); err != nil {
		return nil, err
	}
	output, err := doc.Save()
	if err != nil {
		return nil, err
	}
	reportProgress(progress, stageSerialized, 80)

	// 同じジョブの再試行は同じキーに上書きする
	key := storage.OutputKey(job.ID)
	if err := p.store.Put(ctx, key, output, outputContentType); err != nil {
		return nil, fmt.Errorf("failed to upload result: %w", err)
	}
	reportProgress(progress, stageCompleted, 100)

	log.Info("job processed",
		zap.String("operation", name),
		zap.String("result_key", key),
		zap.Int("pages", doc.PageCount()),
		zap.Int("output_size", len(output)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return &jobs.Result{Key: key}, nil
}

func (p *Processor) fetch(ctx context.Context, key string) ([]byte, error) {
	data, err := p.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, pdf.InputNotFound(key, err)
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return data, nil
}
