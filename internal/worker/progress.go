package worker

import "github.com/yourusername/pdf-perfect/internal/jobs"

// 進捗の段階
const (
	stageDequeued   = "dequeued"
	stageDownloaded = "downloaded"
	stageSerialized = "serialized"
	stageCompleted  = "completed"
)

func reportProgress(cb jobs.ProgressFunc, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}
