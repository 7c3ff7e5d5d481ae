package app

import (
	"context"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"cloutopia/internal/model"
	"cloutopia/internal/repository"
)

const (
	DefaultBlogPageSize = 10
	MaxBlogPageSize     = 50
)

type BlogStore interface {
	ListPublished(filter repository.BlogFilter) ([]model.Blog, int64, error)
	GetPublishedBySlug(slug string) (*model.Blog, error)
	IncrementViews(blogID uint) error
	IncrementLikes(blogID uint) (int64, error)
}

type BlogQuery struct {
	Page     int
	PageSize int
	Category string
	Tag      string
	Featured *bool
}

func (q BlogQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Page, validation.Min(1)),
		validation.Field(&q.PageSize, validation.Min(1), validation.Max(MaxBlogPageSize)),
		validation.Field(&q.Category, validation.Length(0, 100)),
		validation.Field(&q.Tag, validation.Length(0, 100)),
	)
}

type BlogPage struct {
	Blogs    []model.Blog `json:"blogs"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Total    int64        `json:"total"`
}

type BlogService struct {
	store  BlogStore
	logger *slog.Logger
}

// NewBlogService serves published blogs. store is nil when MySQL is
// disabled.
func NewBlogService(store BlogStore, logger *slog.Logger) *BlogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlogService{store: store, logger: logger.With("component", "blog_service")}
}

func (s *BlogService) List(ctx context.Context, q BlogQuery) (*BlogPage, error) {
	if s.store == nil {
		return nil, ErrPersistenceDisabled
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultBlogPageSize
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	blogs, total, err := s.store.ListPublished(repository.BlogFilter{
		Category: q.Category,
		Tag:      q.Tag,
		Featured: q.Featured,
		Offset:   (q.Page - 1) * q.PageSize,
		Limit:    q.PageSize,
	})
	if err != nil {
		return nil, err
	}
	if blogs == nil {
		blogs = []model.Blog{}
	}
	return &BlogPage{Blogs: blogs, Page: q.Page, PageSize: q.PageSize, Total: total}, nil
}

// Get returns a published blog by slug and counts the view.
func (s *BlogService) Get(ctx context.Context, slug string) (*model.Blog, error) {
	blog, err := s.published(slug)
	if err != nil {
		return nil, err
	}
	if err := s.store.IncrementViews(blog.ID); err != nil {
		s.logger.WarnContext(ctx, "count blog view failed", "slug", slug, "error", err)
	} else {
		blog.ViewCount++
	}
	return blog, nil
}

func (s *BlogService) Like(ctx context.Context, slug string) (int64, error) {
	blog, err := s.published(slug)
	if err != nil {
		return 0, err
	}
	return s.store.IncrementLikes(blog.ID)
}

func (s *BlogService) published(slug string) (*model.Blog, error) {
	if s.store == nil {
		return nil, ErrPersistenceDisabled
	}
	if err := validation.Validate(slug, validation.Required, validation.Length(1, 255)); err != nil {
		return nil, fmt.Errorf("%w: slug %v", ErrInvalidInput, err)
	}
	blog, err := s.store.GetPublishedBySlug(slug)
	if err != nil {
		return nil, err
	}
	if blog == nil {
		return nil, ErrBlogNotFound
	}
	return blog, nil
}
