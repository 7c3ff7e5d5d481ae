package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cloutopia/internal/model"
)

type BlogFilter struct {
	Category string
	Tag      string
	Featured *bool
	Offset   int
	Limit    int
}

type BlogRepository struct {
	db *gorm.DB
}

func NewBlogRepository(db *gorm.DB) *BlogRepository {
	return &BlogRepository{db: db}
}

func (r *BlogRepository) ListPublished(filter BlogFilter) ([]model.Blog, int64, error) {
	var total int64
	if err := r.db.Model(&model.Blog{}).Scopes(publishedMatching(filter)).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count blogs failed: %w", err)
	}

	var blogs []model.Blog
	if err := r.db.Scopes(publishedMatching(filter)).
		Preload("Author").
		Order("published_at DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&blogs).Error; err != nil {
		return nil, 0, fmt.Errorf("list blogs failed: %w", err)
	}
	return blogs, total, nil
}

func publishedMatching(filter BlogFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("is_published = ?", true)
		if filter.Category != "" {
			db = db.Where("category = ?", filter.Category)
		}
		if filter.Tag != "" {
			db = db.Where("JSON_CONTAINS(tags, JSON_QUOTE(?))", filter.Tag)
		}
		if filter.Featured != nil {
			db = db.Where("is_featured = ?", *filter.Featured)
		}
		return db
	}
}

func (r *BlogRepository) GetPublishedBySlug(slug string) (*model.Blog, error) {
	var blog model.Blog
	if err := r.db.Preload("Author").Preload("FeaturedImage").
		Where("slug = ? AND is_published = ?", slug, true).
		First(&blog).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get blog failed: %w", err)
	}
	return &blog, nil
}

func (r *BlogRepository) IncrementViews(blogID uint) error {
	if err := r.db.Model(&model.Blog{}).Where("id = ?", blogID).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1)).Error; err != nil {
		return fmt.Errorf("increment blog views failed: %w", err)
	}
	return nil
}

// IncrementLikes bumps like_count and returns the stored value.
func (r *BlogRepository) IncrementLikes(blogID uint) (int64, error) {
	var likes int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Blog{}).Where("id = ?", blogID).
			UpdateColumn("like_count", gorm.Expr("like_count + ?", 1)).Error; err != nil {
			return err
		}
		return tx.Model(&model.Blog{}).Where("id = ?", blogID).Pluck("like_count", &likes).Error
	})
	if err != nil {
		return 0, fmt.Errorf("increment blog likes failed: %w", err)
	}
	return likes, nil
}
