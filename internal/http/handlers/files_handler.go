package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lead-exchange/internal/storage"
)

// FileStore serves objects behind signed links (the local storage backend).
type FileStore interface {
	Verify(key, expires, sig string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ServeFile godoc
// @ID          serveFile
// @Summary     Download a stored object through a signed link
// @Description Serves rejected-row reports and other objects of the local storage backend. Links expire.
// @Tags        Files
// @Produce     text/csv
//
// @Param       key      path   string  true  "Object key"
// @Param       expires  query  int     true  "Unix expiry"
// @Param       sig      query  string  true  "HMAC signature"
//
// @Success     200  {file}    file
// @Failure     403  {object}  handlers.ErrorResponse  "Invalid or expired link"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /files/{key} [get]
func (h *Handlers) ServeFile(c *gin.Context) {
	if h.files == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "not found")
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := h.files.Verify(key, c.Query("expires"), c.Query("sig")); err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid key")
			return
		}
		failErr(c, err)
		return
	}
	rc, err := h.files.Open(c.Request.Context(), key)
	if err != nil {
		failErr(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	c.Header("Cache-Control", "private, no-store")
	c.DataFromReader(http.StatusOK, -1, "text/csv; charset=utf-8", rc, nil)
}
