package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"

	"github.com/labstack/echo/v4"

	"github.com/chatrelay/chatrelay/internal/media"
	"github.com/chatrelay/chatrelay/internal/media/providers/localfs"
)

// MediaHandler serves stored LINE media under /media/<key>.
type MediaHandler struct {
	service *media.Service
	logger  *slog.Logger
}

func NewMediaHandler(log *slog.Logger, service *media.Service) *MediaHandler {
	return &MediaHandler{
		service: service,
		logger:  log.With(slog.String("handler", "media")),
	}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	e.GET(localfs.RoutePrefix+"/*", h.Serve)
}

func (h *MediaHandler) Serve(c echo.Context) error {
	key, err := url.PathUnescape(c.Param("*"))
	if err != nil || key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid media key")
	}
	reader, err := h.service.Open(c.Request().Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrAssetNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "media not found")
		case errors.Is(err, media.ErrPathTraversal):
			return echo.NewHTTPError(http.StatusBadRequest, "invalid media key")
		default:
			h.logger.Error("open media failed", slog.String("key", key), slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "open media failed")
		}
	}
	defer reader.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=86400")
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	c.Response().WriteHeader(http.StatusOK)
	_, err = io.Copy(c.Response(), reader)
	return err
}
