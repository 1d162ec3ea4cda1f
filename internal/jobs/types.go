package jobs

import (
	"encoding/json"
	"time"
)

// State はジョブのライフサイクル上の状態を表します。
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// IsTerminal は completed / failed のとき true を返します。
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Data はジョブの入力です。Params は JSON オブジェクトをそのまま保持します。
type Data struct {
	FileID    string         `json:"fileId"`
	Key       string         `json:"key"`
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params"`
}

// Result は完了ジョブの戻り値です。
type Result struct {
	Key string `json:"key"`
}

// Job はジョブの現在状態を表します。
type Job struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Data          Data       `json:"data"`
	State         State      `json:"state"`
	Progress      int        `json:"progress"`
	Stage         string     `json:"stage,omitempty"`
	AttemptsMade  int        `json:"attemptsMade"`
	MaxAttempts   int        `json:"maxAttempts"`
	ReturnValue   *Result    `json:"returnValue,omitempty"`
	FailedReason  string     `json:"failedReason,omitempty"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// StateAt は保存された記録から now 時点の状態を導出します。
// バックオフ待ちの delayed ジョブは、再試行時刻を過ぎていれば waiting として扱います。
func (j *Job) StateAt(now time.Time) State {
	if j.State == StateDelayed && j.NextAttemptAt != nil && !now.Before(*j.NextAttemptAt) {
		return StateWaiting
	}
	return j.State
}

// Clone は Params を含めたディープコピーを返します。
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	// Params は任意の JSON 値を含むため、JSON 経由でコピーする
	payload, err := json.Marshal(j)
	if err != nil {
		cp := *j
		return &cp
	}
	var cp Job
	if err := json.Unmarshal(payload, &cp); err != nil {
		cp = *j
	}
	return &cp
}

func timePtr(t time.Time) *time.Time {
	return &t
}
