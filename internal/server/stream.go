package server

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/live"
)

const wsWriteWait = 10 * time.Second

// handleEvents は GET /api/status/:jobId/events の SSE ハンドラーです。
// 終了状態を送るかクライアントが切断するとストリームを閉じます。
func (s *Server) handleEvents(c *gin.Context) {
	jobID := c.Param("jobId")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	err := s.live.Subscribe(c.Request.Context(), jobID, func(u live.Update) error {
		c.SSEvent("status", u)
		c.Writer.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("sse stream ended", zap.String("job_id", jobID), zap.Error(err))
	}
}

// handleWebSocket は GET /ws/status/:jobId のハンドラーです。
// 終了状態のメッセージを送ったあと正常終了のクローズフレームで閉じます。
func (s *Server) handleWebSocket(c *gin.Context) {
	jobID := c.Param("jobId")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade がエラーレスポンスを書き込み済み
		s.log.Debug("websocket upgrade failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// クライアントが閉じたら購読を止める
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.live.Subscribe(ctx, jobID, func(u live.Update) error {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
			return err
		}
		return conn.WriteJSON(u)
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Debug("websocket stream ended", zap.String("job_id", jobID), zap.Error(err))
		}
		return
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(wsWriteWait)); err != nil {
		s.log.Debug("failed to send close frame", zap.String("job_id", jobID), zap.Error(err))
	}
}
