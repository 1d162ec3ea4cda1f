// Package jobs は PDF 処理ジョブのキュー、状態管理、リトライ制御を提供します。
//
// キューの実体は 2 種類あります。
//   - Manager: Asynq (Redis) によるスケジューリングと RedisStore によるジョブレコード
//   - MemoryQueue: 単一プロセス用のインメモリ実装（開発・テスト向け）
//
// どちらも状態遷移は lifecycle を通して Store に記録するため、API から見える挙動は同じです。
package jobs

import (
	"context"
	"errors"
)

// ErrNotFound はジョブが存在しない（もしくは保持期間を過ぎて削除された）ことを表します。
var ErrNotFound = errors.New("job not found")

// Reader はジョブのスナップショットを取得します。
type Reader interface {
	GetJob(ctx context.Context, id string) (*Job, error)
}

// Queue はジョブの投入と参照を行います。
type Queue interface {
	Reader
	Enqueue(ctx context.Context, name string, data Data) (*Job, error)
}

// ProgressFunc はハンドラーから進捗を報告するためのコールバックです。
type ProgressFunc func(stage string, percent int)

// Handler はジョブ 1 件の 1 試行を処理します。エラーを返すとリトライポリシーが適用されます。
type Handler func(ctx context.Context, job *Job, progress ProgressFunc) (*Result, error)

// Consumer はハンドラーを使ってジョブを取り出し実行するワーカー側の窓口です。
type Consumer interface {
	Start(handler Handler) error
	Shutdown()
}

// Notifier は状態遷移のたびに呼ばれます。
type Notifier interface {
	Notify(ctx context.Context, job *Job)
}

// NotifierFunc は関数を Notifier として扱うためのアダプタです。
type NotifierFunc func(ctx context.Context, job *Job)

// Notify は f を呼び出します。
func (f NotifierFunc) Notify(ctx context.Context, job *Job) {
	f(ctx, job)
}

// Observer はメトリクス収集用のフックです。
type Observer interface {
	JobEnqueued(operation string)
	AttemptStarted(operation string)
	AttemptFinished(operation string, err error, final bool, seconds float64)
}

type noopObserver struct{}

func (noopObserver) JobEnqueued(string)                           {}
func (noopObserver) AttemptStarted(string)                        {}
func (noopObserver) AttemptFinished(string, error, bool, float64) {}
