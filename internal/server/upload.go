package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/jobs"
	"github.com/yourusername/pdf-perfect/internal/storage"
	"github.com/yourusername/pdf-perfect/internal/worker"
)

// DefaultOperation は operation が指定されなかったときに使う処理名です。
const DefaultOperation = "process-pdf"

const pdfMIME = "application/pdf"

// handleUpload は POST /api/upload のハンドラーです。
// 入力を保存してからジョブを投入し、{jobId, fileId} を返します。
func (s *Server) handleUpload(c *gin.Context) {
	if s.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			s.respondWithError(c, errTooLarge)
			return
		}
		s.respondWithError(c, errNoFile)
		return
	}

	pdfData, err := readFormFile(header)
	if err != nil {
		s.respondWithError(c, fmt.Errorf("read uploaded file: %w", err))
		return
	}
	if !mimetype.Detect(pdfData).Is(pdfMIME) {
		s.respondWithError(c, errNotPDF)
		return
	}

	operation := strings.TrimSpace(c.PostForm("operation"))
	if operation == "" {
		operation = DefaultOperation
	}
	params := s.parseParams(c.PostForm("params"))

	ctx := c.Request.Context()
	fileID := uuid.NewString()
	inputKey := storage.InputKey(fileID)
	if err := s.store.Put(ctx, inputKey, pdfData, pdfMIME); err != nil {
		s.respondWithError(c, fmt.Errorf("store input: %w", err))
		return
	}

	if imageHeader, err := c.FormFile("image"); err == nil {
		imageData, err := readFormFile(imageHeader)
		if err != nil {
			s.respondWithError(c, fmt.Errorf("read uploaded image: %w", err))
			return
		}
		imageKey := storage.ImageKey(fileID)
		if err := s.store.Put(ctx, imageKey, imageData, mimetype.Detect(imageData).String()); err != nil {
			s.respondWithError(c, fmt.Errorf("store image: %w", err))
			return
		}
		params[worker.ImageKeyParam] = imageKey
	}

	job, err := s.queue.Enqueue(ctx, operation, jobs.Data{
		FileID:    fileID,
		Key:       inputKey,
		Operation: operation,
		Params:    params,
	})
	if err != nil {
		s.respondWithError(c, fmt.Errorf("enqueue job: %w", err))
		return
	}

	s.log.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("file_id", fileID),
		zap.String("operation", operation),
		zap.Int64("size", header.Size),
	)
	c.JSON(http.StatusOK, gin.H{
		"jobId":  job.ID,
		"fileId": fileID,
	})
}

// parseParams は params フィールドを JSON オブジェクトとして読みます。
// 壊れた JSON は警告ログを出して空のパラメーターとして扱います。
func (s *Server) parseParams(raw string) map[string]any {
	params := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return params
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil || params == nil {
		s.log.Warn("ignoring malformed params", zap.String("params", raw), zap.Error(err))
		return map[string]any{}
	}
	return params
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return true
	}
	// multipart のパース中のエラーはラップされずに文字列化されることがある
	return strings.Contains(err.Error(), "request body too large")
}
