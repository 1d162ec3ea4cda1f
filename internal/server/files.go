package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdf-perfect/internal/storage"
)

// handleFile は local ドライバーの署名付きURL（/api/files/*key?token=）を配信します。
func (s *Server) handleFile(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := s.files.Verify(key, c.Query("token")); err != nil {
		s.respondWithError(c, errFileLink)
		return
	}

	data, err := s.files.Get(c.Request.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondWithError(c, errFileMissing)
		return
	}
	if err != nil {
		s.respondWithError(c, fmt.Errorf("read file: %w", err))
		return
	}

	mtype := mimetype.Detect(data)
	filename := path.Base(key)
	if path.Ext(filename) == "" {
		filename += mtype.Extension()
	}

	encodedName := url.PathEscape(filename)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", filename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, mtype.String(), data)
}
