package model

import (
	"time"

	"gorm.io/gorm"
)

const DefaultBlogCategory = "cloud-analysis"

type Blog struct {
	ID               uint           `gorm:"primaryKey" json:"-"`
	UUID             string         `gorm:"size:36;not null;uniqueIndex" json:"id"`
	Title            string         `gorm:"size:255;not null" json:"title"`
	Slug             string         `gorm:"size:255;not null;uniqueIndex" json:"slug"`
	Content          string         `gorm:"type:longtext;not null" json:"content"`
	Excerpt          string         `gorm:"size:500" json:"excerpt,omitempty"`
	Tags             []string       `gorm:"serializer:json;type:json" json:"tags"`
	Category         string         `gorm:"size:100;not null;default:cloud-analysis;index" json:"category"`
	IsPublished      bool           `gorm:"not null;default:false;index" json:"is_published"`
	IsFeatured       bool           `gorm:"not null;default:false" json:"is_featured"`
	MetaDescription  string         `gorm:"size:160" json:"meta_description,omitempty"`
	OGImageURL       string         `gorm:"size:500" json:"og_image_url,omitempty"`
	ViewCount        int64          `gorm:"not null;default:0" json:"view_count"`
	LikeCount        int64          `gorm:"not null;default:0" json:"like_count"`
	AuthorID         uint           `gorm:"not null;index" json:"-"`
	Author           *User          `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	FeaturedImageID  *uint          `gorm:"index" json:"-"`
	FeaturedImage    *Image         `gorm:"foreignKey:FeaturedImageID;constraint:OnDelete:SET NULL" json:"featured_image,omitempty"`
	AIAnalysisData   map[string]any `gorm:"serializer:json;type:json" json:"ai_analysis_data,omitempty"`
	GenerationPrompt string         `gorm:"type:text" json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	PublishedAt      *time.Time     `gorm:"index" json:"published_at,omitempty"`
}

func (b *Blog) BeforeCreate(*gorm.DB) error {
	b.UUID = ensureUUID(b.UUID)
	if b.Category == "" {
		b.Category = DefaultBlogCategory
	}
	return nil
}
