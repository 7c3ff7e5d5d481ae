package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cloutopia/internal/app"
	"cloutopia/internal/transport/http/middleware"
	"cloutopia/internal/transport/http/response"
)

type MediaHandler struct {
	imageService *app.ImageService
	logger       *slog.Logger
}

func NewMediaHandler(imageService *app.ImageService, logger *slog.Logger) *MediaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaHandler{imageService: imageService, logger: logger.With("component", "media_handler")}
}

// Upload stores the multipart "file" field as a new image.
func (h *MediaHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeTooLarge, app.ErrUploadTooLarge.Error())
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "multipart field \"file\" is required")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "cannot read uploaded file")
		return
	}
	defer file.Close()

	userID, _ := middleware.UserID(c)
	result, err := h.imageService.Upload(c.Request.Context(), app.UploadInput{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		Content:  file,
		UserID:   userID,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUploadTooLarge):
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeTooLarge, err.Error())
		case errors.Is(err, app.ErrUnsupportedImage):
			response.Error(c, http.StatusUnsupportedMediaType, response.CodeUnsupportedMedia, err.Error())
		default:
			h.logger.Error("upload failed", "filename", fileHeader.Filename, "error", err)
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "upload failed")
		}
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *MediaHandler) GetImage(c *gin.Context) {
	img, err := h.imageService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrImageNotFound):
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
		case errors.Is(err, app.ErrPersistenceDisabled):
			response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, err.Error())
		default:
			h.logger.Error("get image failed", "error", err)
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get image failed")
		}
		return
	}
	response.OK(c, img)
}
