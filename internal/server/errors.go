package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// apiError はクライアントに返す既知のエラーです。{error, code} の形で返します。
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAPIError(status int, code, message string) *apiError {
	return &apiError{Status: status, Code: code, Message: message}
}

var (
	errNoFile      = newAPIError(http.StatusBadRequest, "INVALID_INPUT", "No PDF file uploaded")
	errNotPDF      = newAPIError(http.StatusBadRequest, "INVALID_INPUT", "Only PDF files are accepted")
	errTooLarge    = newAPIError(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Uploaded file is too large")
	errJobNotFound = newAPIError(http.StatusNotFound, "JOB_NOT_FOUND", "Job not found")
	errFileLink    = newAPIError(http.StatusForbidden, "INVALID_TOKEN", "Download link is invalid or expired")
	errFileMissing = newAPIError(http.StatusNotFound, "FILE_NOT_FOUND", "File not found")
)

// respondWithError はエラーの種類に応じたレスポンスを書き込みます。
func (s *Server) respondWithError(c *gin.Context, err error) {
	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		c.AbortWithStatusJSON(apiErr.Status, gin.H{
			"error": apiErr.Message,
			"code":  apiErr.Code,
		})
	case errors.Is(err, context.Canceled):
		c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{
			"error": "request canceled",
			"code":  "REQUEST_CANCELED",
		})
	default:
		s.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		writeInternalError(c)
	}
}

// recoverPanic は gin.CustomRecovery から呼ばれます。
func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	s.log.Error("panic recovered",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Any("panic", recovered),
	)
	writeInternalError(c)
}

func writeInternalError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"message":    "Internal server error",
			"statusCode": http.StatusInternalServerError,
			"code":       "INTERNAL_ERROR",
		},
	})
}
