// Package live はジョブの状態を購読者へ逐次届けます。
// 終了状態（completed / failed）を届けた時点で購読は終わります。
package live

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/jobs"
)

// DefaultInterval はポーリング間隔の既定値です。
const DefaultInterval = 2 * time.Second

// JobNotFoundMessage は存在しないジョブを購読した場合に送るエラーメッセージです。
const JobNotFoundMessage = "Job not found"

// Update は購読者に送るメッセージです。
// Error が空でなければ {"error": ...}、そうでなければ {"state": ..., "progress": ...} になります。
type Update struct {
	State    jobs.State
	Progress int
	Error    string
}

// MarshalJSON は Update を 2 種類の形のどちらかで出力します。
func (u Update) MarshalJSON() ([]byte, error) {
	if u.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{u.Error})
	}
	return json.Marshal(struct {
		State    jobs.State `json:"state"`
		Progress int        `json:"progress"`
	}{u.State, u.Progress})
}

// Terminal は最後のメッセージかどうかを返します。
func (u Update) Terminal() bool {
	return u.Error != "" || u.State.IsTerminal()
}

// FromJob はジョブのスナップショットから Update を作ります。
func FromJob(job *jobs.Job) Update {
	return Update{State: job.State, Progress: job.Progress}
}

// Subscriber はジョブの状態を fn に届けます。
// 終了状態を届けるか、ctx がキャンセルされるか、fn がエラーを返すまでブロックします。
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string, fn func(Update) error) error
}

// pollOnce はジョブを 1 回読み、fn に渡します。購読を終えるべきなら done が true です。
func pollOnce(ctx context.Context, reader jobs.Reader, jobID string, fn func(Update) error, log *zap.Logger) (done bool, err error) {
	job, err := reader.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		return true, fn(Update{Error: JobNotFoundMessage})
	}
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		// 一時的な障害では購読を切らずに次の周期で読み直す
		log.Warn("failed to read job", zap.String("job_id", jobID), zap.Error(err))
		return false, nil
	}
	update := FromJob(job)
	if err := fn(update); err != nil {
		return true, err
	}
	return update.Terminal(), nil
}
