package file

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/abduss/drop24/internal/auth"
	"github.com/abduss/drop24/internal/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const multipartOverhead = 1 << 20

// RegisterRoutes mounts file operations under the provided router group.
// maxUpload caps the request body of uploads.
func RegisterRoutes(group *gin.RouterGroup, service *Service, authn auth.Authenticator, maxUpload int64) {
	handler := &httpHandler{service: service, maxBody: maxUpload + multipartOverhead}
	required := auth.AuthMiddleware(authn)
	optional := auth.OptionalAuthMiddleware(authn)

	group.POST("/upload", required, handler.uploadFile)
	group.PATCH("/upload/:id", required, handler.setVisibility)
	group.DELETE("/upload/:id", required, handler.deleteFile)
	group.GET("/upload/:id/download", optional, handler.downloadLink)
	group.GET("/files", optional, handler.listFiles)
	group.GET("/my-files", required, handler.listOwnFiles)
}

type httpHandler struct {
	service *Service
	maxBody int64
}

type visibilityRequest struct {
	Visibility string `json:"visibility"`
}

func (h *httpHandler) uploadFile(c *gin.Context) {
	if h.maxBody > multipartOverhead {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(c, ErrUnsupportedFile, "failed to upload file")
			return
		}
		h.writeError(c, ErrMissingFile, "failed to upload file")
		return
	}

	rec, err := h.service.Upload(c.Request.Context(), UploadInput{
		OwnerID:    auth.CallerID(c),
		Visibility: c.PostForm("visibility"),
		CustomName: c.PostForm("customName"),
		File:       fileHeader,
	})
	if err != nil {
		h.writeError(c, err, "failed to upload file")
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (h *httpHandler) listFiles(c *gin.Context) {
	page, ok := parsePage(c)
	if !ok {
		return
	}

	list, err := h.service.List(c.Request.Context(), auth.CallerID(c), page)
	if err != nil {
		h.writeError(c, err, "failed to list files")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) listOwnFiles(c *gin.Context) {
	page, ok := parsePage(c)
	if !ok {
		return
	}

	list, err := h.service.ListOwn(c.Request.Context(), auth.CallerID(c), page)
	if err != nil {
		h.writeError(c, err, "failed to list files")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) setVisibility(c *gin.Context) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rec, err := h.service.SetVisibility(c.Request.Context(), c.Param("id"), req.Visibility, auth.CallerID(c))
	if err != nil {
		h.writeError(c, err, "failed to update file")
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *httpHandler) deleteFile(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), auth.CallerID(c)); err != nil {
		h.writeError(c, err, "failed to delete file")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File deleted"})
}

func (h *httpHandler) downloadLink(c *gin.Context) {
	link, err := h.service.DownloadLink(c.Request.Context(), c.Param("id"), auth.CallerID(c))
	if err != nil {
		h.writeError(c, err, "failed to create download link")
		return
	}
	c.JSON(http.StatusOK, link)
}

func (h *httpHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidVisibility),
		errors.Is(err, ErrUnsupportedFile),
		errors.Is(err, ErrMissingFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrStorageUploadFailed):
		logger.FromContext(c.Request.Context(), nil).Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": ErrStorageUploadFailed.Error()})
	default:
		logger.FromContext(c.Request.Context(), nil).Error(fallback, zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func parsePage(c *gin.Context) (Page, bool) {
	var page Page
	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &page.Limit}, {"offset", &page.Offset}} {
		raw := c.Query(p.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + p.key})
			return Page{}, false
		}
		*p.dst = n
	}
	return page, true
}
