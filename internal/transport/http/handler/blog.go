package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cloutopia/internal/app"
	"cloutopia/internal/transport/http/response"
)

type BlogHandler struct {
	blogService *app.BlogService
	logger      *slog.Logger
}

type ListBlogsQuery struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=50"`
	Category string `form:"category" binding:"max=100"`
	Tag      string `form:"tag" binding:"max=100"`
	Featured string `form:"featured"`
}

func NewBlogHandler(blogService *app.BlogService, logger *slog.Logger) *BlogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlogHandler{blogService: blogService, logger: logger.With("component", "blog_handler")}
}

func (h *BlogHandler) List(c *gin.Context) {
	var q ListBlogsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid query parameters")
		return
	}

	var featured *bool
	if q.Featured != "" {
		v, err := strconv.ParseBool(q.Featured)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "featured must be a boolean")
			return
		}
		featured = &v
	}

	page, err := h.blogService.List(c.Request.Context(), app.BlogQuery{
		Page:     q.Page,
		PageSize: q.PageSize,
		Category: q.Category,
		Tag:      q.Tag,
		Featured: featured,
	})
	if err != nil {
		h.writeError(c, err, "list blogs failed")
		return
	}
	response.OK(c, page)
}

func (h *BlogHandler) Get(c *gin.Context) {
	blog, err := h.blogService.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeError(c, err, "get blog failed")
		return
	}
	response.OK(c, blog)
}

func (h *BlogHandler) Like(c *gin.Context) {
	slug := c.Param("slug")
	likes, err := h.blogService.Like(c.Request.Context(), slug)
	if err != nil {
		h.writeError(c, err, "like blog failed")
		return
	}
	response.OK(c, gin.H{"slug": slug, "like_count": likes})
}

func (h *BlogHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrBlogNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, app.ErrPersistenceDisabled):
		response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, err.Error())
	default:
		h.logger.Error(fallback, "error", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
