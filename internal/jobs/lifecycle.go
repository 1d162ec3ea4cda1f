package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// errJobFinished は終了済みジョブが再配送されたことを表します。
var errJobFinished = errors.New("job already finished")

// errUnchanged は mutate が何も変更しなかったため書き込みを省くことを表します。
var errUnchanged = errors.New("job unchanged")

// lifecycle はジョブの状態遷移をすべて Store の原子的更新として記録します。
type lifecycle struct {
	store    Store
	policy   RetryPolicy
	notifier Notifier
	observer Observer
	log      *zap.Logger
	now      func() time.Time
}

func newLifecycle(store Store, policy RetryPolicy, opts options) *lifecycle {
	return &lifecycle{
		store:    store,
		policy:   policy.normalized(),
		notifier: opts.notifier,
		observer: opts.observer,
		log:      opts.logger,
		now:      opts.now,
	}
}

func (l *lifecycle) create(ctx context.Context, name string, data Data) (*Job, error) {
	if name == "" {
		name = data.Operation
	}
	if data.Params == nil {
		data.Params = map[string]any{}
	}
	now := l.now().UTC()
	job := &Job{
		ID:          uuid.NewString(),
		Name:        name,
		Data:        data,
		State:       StateWaiting,
		MaxAttempts: l.policy.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.Create(ctx, job, 0); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}
	l.observer.JobEnqueued(job.operation())
	l.notify(ctx, job)
	return job, nil
}

func (l *lifecycle) get(ctx context.Context, id string) (*Job, error) {
	job, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	job.State = job.StateAt(l.now())
	return job, nil
}

// begin は取り出したジョブを active にし、試行回数を加算して進捗をリセットします。
func (l *lifecycle) begin(ctx context.Context, id string) (*Job, error) {
	job, err := l.store.Update(ctx, id, 0, func(j *Job) error {
		if j.State.IsTerminal() {
			return errJobFinished
		}
		now := l.now().UTC()
		j.State = StateActive
		j.AttemptsMade++
		j.Progress = 0
		j.Stage = "active"
		j.NextAttemptAt = nil
		j.ProcessedAt = timePtr(now)
		j.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.notify(ctx, job)
	return job, nil
}

// progress は同一試行内で進捗が後退しないように更新します。
func (l *lifecycle) progress(ctx context.Context, id, stage string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	job, err := l.store.Update(ctx, id, 0, func(j *Job) error {
		if j.State != StateActive || percent < j.Progress {
			return errUnchanged
		}
		if j.Progress == percent && j.Stage == stage {
			return errUnchanged
		}
		j.Progress = percent
		j.Stage = stage
		j.UpdatedAt = l.now().UTC()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	l.notify(ctx, job)
	return nil
}

func (l *lifecycle) complete(ctx context.Context, id string, result *Result) (*Job, error) {
	job, err := l.store.Update(ctx, id, l.policy.CompletedRetention, func(j *Job) error {
		now := l.now().UTC()
		j.State = StateCompleted
		j.Progress = 100
		j.Stage = "completed"
		j.ReturnValue = result
		j.FailedReason = ""
		j.NextAttemptAt = nil
		j.FinishedAt = timePtr(now)
		j.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.notify(ctx, job)
	return job, nil
}

// fail は失敗した試行を記録します。final なら failed、そうでなければ retryIn 後に再試行される delayed にします。
func (l *lifecycle) fail(ctx context.Context, id string, cause error, final bool, retryIn time.Duration) (*Job, error) {
	ttl := time.Duration(0)
	if final {
		ttl = l.policy.FailedRetention
	}
	job, err := l.store.Update(ctx, id, ttl, func(j *Job) error {
		now := l.now().UTC()
		j.UpdatedAt = now
		if final {
			j.State = StateFailed
			j.FailedReason = truncateReason(cause.Error())
			j.NextAttemptAt = nil
			j.FinishedAt = timePtr(now)
			return nil
		}
		j.State = StateDelayed
		j.NextAttemptAt = timePtr(now.Add(retryIn))
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.notify(ctx, job)
	return job, nil
}

// attempt は 1 試行分を実行し、ハンドラーのエラーをそのまま返します。
// lastAttempt はこの試行が最後かどうかをキュー実装ごとに判定します。
func (l *lifecycle) attempt(ctx context.Context, id string, handler Handler, lastAttempt func(*Job) bool) error {
	job, err := l.begin(ctx, id)
	if errors.Is(err, errJobFinished) {
		l.log.Info("skipping redelivered job", zap.String("job_id", id))
		return nil
	}
	if err != nil {
		return err
	}

	op := job.operation()
	log := l.log.With(
		zap.String("job_id", id),
		zap.String("operation", op),
		zap.Int("attempt", job.AttemptsMade),
	)
	log.Info("job attempt started")
	l.observer.AttemptStarted(op)
	started := l.now()

	result, runErr := l.invoke(ctx, job, handler)
	if runErr == nil && (result == nil || result.Key == "") {
		runErr = errors.New("handler returned no result key")
	}
	elapsed := l.now().Sub(started).Seconds()

	if runErr == nil {
		if _, err := l.complete(ctx, id, result); err != nil {
			err = fmt.Errorf("failed to mark job completed: %w", err)
			l.observer.AttemptFinished(op, err, lastAttempt(job), elapsed)
			log.Error("job result not recorded", zap.Error(err))
			return err
		}
		l.observer.AttemptFinished(op, nil, true, elapsed)
		log.Info("job completed", zap.String("result_key", result.Key))
		return nil
	}

	final := lastAttempt(job)
	delay := l.policy.Backoff(job.AttemptsMade)
	if _, err := l.fail(ctx, id, runErr, final, delay); err != nil {
		log.Error("failed to record job failure", zap.Error(err))
	}
	l.observer.AttemptFinished(op, runErr, final, elapsed)
	if final {
		log.Error("job failed permanently", zap.Error(runErr))
	} else {
		log.Warn("job attempt failed, retry scheduled", zap.Error(runErr), zap.Duration("retry_in", delay))
	}
	return runErr
}

func (l *lifecycle) invoke(ctx context.Context, job *Job, handler Handler) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	report := func(stage string, percent int) {
		if err := l.progress(ctx, job.ID, stage, percent); err != nil {
			l.log.Warn("failed to update progress", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return handler(ctx, job.Clone(), report)
}

func (l *lifecycle) notify(ctx context.Context, job *Job) {
	if l.notifier == nil || job == nil {
		return
	}
	l.notifier.Notify(ctx, job.Clone())
}

func (j *Job) operation() string {
	if j.Data.Operation != "" {
		return j.Data.Operation
	}
	return j.Name
}

// truncateReason は maxFailedReasonLength バイト以内に収めます。マルチバイト文字の途中では切りません。
func truncateReason(msg string) string {
	if len(msg) <= maxFailedReasonLength {
		return msg
	}
	cut := maxFailedReasonLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
