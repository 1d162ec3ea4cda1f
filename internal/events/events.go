// Package events はジョブの状態遷移を外部に配信します。
// Redis の pub/sub はライブステータスの購読側が、RabbitMQ は他サービスが利用します。
package events

import (
	"context"
	"time"

	"github.com/yourusername/pdf-perfect/internal/jobs"
)

const publishTimeout = 2 * time.Second

// Event は 1 回の状態遷移を表すメッセージです。
type Event struct {
	JobID        string     `json:"jobId"`
	Name         string     `json:"name"`
	State        jobs.State `json:"state"`
	Progress     int        `json:"progress"`
	Stage        string     `json:"stage,omitempty"`
	AttemptsMade int        `json:"attemptsMade"`
	FailedReason string     `json:"failedReason,omitempty"`
	ResultKey    string     `json:"resultKey,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// FromJob はジョブのスナップショットから Event を作ります。
func FromJob(job *jobs.Job) Event {
	ev := Event{
		JobID:        job.ID,
		Name:         job.Name,
		State:        job.State,
		Progress:     job.Progress,
		Stage:        job.Stage,
		AttemptsMade: job.AttemptsMade,
		FailedReason: job.FailedReason,
		Timestamp:    job.UpdatedAt,
	}
	if job.ReturnValue != nil {
		ev.ResultKey = job.ReturnValue.Key
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev
}

// Multi は複数の Notifier に順に配信します。nil は無視します。
type Multi []jobs.Notifier

// Notify はすべての Notifier を呼び出します。
func (m Multi) Notify(ctx context.Context, job *jobs.Job) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, job)
		}
	}
}

// publishContext は呼び出し元のキャンセルに影響されない、タイムアウト付きのコンテキストを返します。
func publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
}
