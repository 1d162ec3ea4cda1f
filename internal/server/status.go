package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdf-perfect/internal/jobs"
)

// statusResponse は GET /api/status/:jobId のレスポンスです。
type statusResponse struct {
	ID           string       `json:"id"`
	State        jobs.State   `json:"state"`
	Progress     int          `json:"progress"`
	Result       *jobs.Result `json:"result"`
	DownloadURL  *string      `json:"downloadUrl"`
	FailedReason string       `json:"failedReason,omitempty"`
	AttemptsMade int          `json:"attemptsMade"`
}

// handleStatus は GET /api/status/:jobId のハンドラーです。
func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := s.queue.GetJob(ctx, c.Param("jobId"))
	if errors.Is(err, jobs.ErrNotFound) {
		s.respondWithError(c, errJobNotFound)
		return
	}
	if err != nil {
		s.respondWithError(c, fmt.Errorf("get job: %w", err))
		return
	}

	resp := statusResponse{
		ID:           job.ID,
		State:        job.State,
		Progress:     job.Progress,
		Result:       job.ReturnValue,
		FailedReason: job.FailedReason,
		AttemptsMade: job.AttemptsMade,
	}

	// ダウンロードURLは完了済みで成果物のキーがあるときだけ発行する
	if job.State == jobs.StateCompleted && job.ReturnValue != nil && job.ReturnValue.Key != "" {
		url, err := s.store.SignedURL(ctx, job.ReturnValue.Key, s.cfg.SignedURLTTL)
		if err != nil {
			s.respondWithError(c, fmt.Errorf("sign download url: %w", err))
			return
		}
		resp.DownloadURL = &url
	}

	c.JSON(http.StatusOK, resp)
}
