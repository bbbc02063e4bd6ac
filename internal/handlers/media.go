package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/mediastore/internal/auth"
	"github.com/memohai/mediastore/internal/delivery"
	"github.com/memohai/mediastore/internal/logger"
	"github.com/memohai/mediastore/internal/media"
	"github.com/memohai/mediastore/internal/metrics"
	"github.com/memohai/mediastore/internal/ratelimit"
)

// FilenameHeader names a raw (non-multipart) upload.
const FilenameHeader = "X-Filename"

const uploadFormField = "file"

// MediaHandler serves upload, listing, fetch and delete under /media.
type MediaHandler struct {
	service  *media.Service
	resolver auth.Resolver
	limiter  *ratelimit.Keyed
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// UploadResponse is the body of a successful upload.
type UploadResponse struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Kind      string `json:"kind"`
	MIME      string `json:"mime"`
}

// NewMediaHandler creates the media handler. limiter may be nil to disable
// upload rate limiting.
func NewMediaHandler(log *slog.Logger, service *media.Service, resolver auth.Resolver, limiter *ratelimit.Keyed, rec metrics.Recorder) *MediaHandler {
	return &MediaHandler{
		service:  service,
		resolver: resolver,
		limiter:  limiter,
		metrics:  metrics.OrNoop(rec),
		logger:   log.With(slog.String("handler", "media")),
	}
}

// Register mounts the /media routes on the Echo instance.
func (h *MediaHandler) Register(e *echo.Echo) {
	g := e.Group("/media")
	g.POST("", h.Upload)
	g.GET("", h.List)
	g.GET("/:name", h.Fetch)
	g.HEAD("/:name", h.Fetch)
	g.DELETE("/:name", h.Delete)
}

// Upload godoc
// @Summary Upload a media file
// @Description Multipart field "file", or a raw body with Content-Type and X-Filename
// @Tags media
// @Success 201 {object} UploadResponse
// @Failure 400 {object} ErrorResponse
// @Failure 413 {object} ErrorResponse
// @Failure 415 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /media [post].
func (h *MediaHandler) Upload(c echo.Context) error {
	id, err := RequireIdentity(c, h.resolver)
	if err != nil {
		return err
	}
	if err := RequireAllowance(h.limiter, id); err != nil {
		return err
	}

	req := c.Request()
	input := media.UploadInput{Identity: id}
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get(echo.HeaderContentType))
	if mediaType == "multipart/form-data" {
		mr, err := req.MultipartReader()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
			}
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			if part.FormName() != uploadFormField {
				_ = part.Close()
				continue
			}
			defer part.Close()
			input.Filename = part.FileName()
			input.MIME = part.Header.Get(echo.HeaderContentType)
			input.Reader = part
			break
		}
	} else {
		input.Filename = strings.TrimSpace(req.Header.Get(FilenameHeader))
		input.MIME = req.Header.Get(echo.HeaderContentType)
		input.Reader = req.Body
	}

	record, err := h.service.Upload(req.Context(), input)
	if err != nil {
		herr := httpError(err)
		if he, ok := herr.(*echo.HTTPError); ok && he.Code >= http.StatusInternalServerError {
			h.logger.Error("upload failed", slog.String("identity", id.String()), slog.Any("error", err))
		}
		return herr
	}
	return c.JSON(http.StatusCreated, UploadResponse{
		Name:      record.Name,
		SizeBytes: record.SizeBytes,
		Kind:      string(record.Kind),
		MIME:      record.MIME,
	})
}

// List godoc
// @Summary List the caller's media ordered by name
// @Tags media
// @Success 200 {array} media.FileRecord
// @Failure 400 {object} ErrorResponse
// @Router /media [get].
func (h *MediaHandler) List(c echo.Context) error {
	id, err := RequireIdentity(c, h.resolver)
	if err != nil {
		return err
	}
	records, err := h.service.List(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, records)
}

// Fetch godoc
// @Summary Stream a stored file, honouring a single byte Range
// @Tags media
// @Param name path string true "Stored file name"
// @Success 200 {file} binary
// @Success 206 {file} binary
// @Failure 404 {object} ErrorResponse
// @Failure 416 {object} ErrorResponse
// @Router /media/{name} [get].
func (h *MediaHandler) Fetch(c echo.Context) error {
	id, err := RequireIdentity(c, h.resolver)
	if err != nil {
		return err
	}
	obj, err := h.service.Open(c.Request().Context(), id, c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	defer obj.Close()

	res, err := delivery.Serve(c.Response(), c.Request(), obj.Content)
	h.metrics.RecordServed(res.Status, res.Bytes)
	if err != nil && !errors.Is(err, delivery.ErrRangeNotSatisfiable) {
		// Headers are already on the wire; all that is left is to log.
		logger.FromContext(c.Request().Context()).Debug("stream aborted", slog.String("name", obj.Name), slog.Int64("bytes", res.Bytes), slog.Any("error", err))
	}
	return nil
}

// Delete godoc
// @Summary Delete a stored file
// @Tags media
// @Param name path string true "Stored file name"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /media/{name} [delete].
func (h *MediaHandler) Delete(c echo.Context) error {
	id, err := RequireIdentity(c, h.resolver)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.Request().Context(), id, c.Param("name")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
