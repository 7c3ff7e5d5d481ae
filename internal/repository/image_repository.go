package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cloutopia/internal/model"
)

type ImageRepository struct {
	db *gorm.DB
}

func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) Create(image *model.Image) error {
	if err := r.db.Create(image).Error; err != nil {
		return fmt.Errorf("create image failed: %w", err)
	}
	return nil
}

func (r *ImageRepository) GetPublicByUUID(id string) (*model.Image, error) {
	var image model.Image
	if err := r.db.Where("uuid = ? AND is_public = ?", id, true).First(&image).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get image failed: %w", err)
	}
	return &image, nil
}

func (r *ImageRepository) IncrementViews(imageID uint) error {
	if err := r.db.Model(&model.Image{}).Where("id = ?", imageID).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1)).Error; err != nil {
		return fmt.Errorf("increment image views failed: %w", err)
	}
	return nil
}
