package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	AnalysisPending    = "pending"
	AnalysisProcessing = "processing"
	AnalysisCompleted  = "completed"
	AnalysisFailed     = "failed"
)

type Image struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	UUID             string    `gorm:"size:36;not null;uniqueIndex" json:"id"`
	Filename         string    `gorm:"size:255;not null" json:"filename"`
	OriginalFilename string    `gorm:"size:255;not null" json:"original_filename"`
	FilePath         string    `gorm:"size:500;not null" json:"-"`
	FileSize         int64     `gorm:"not null" json:"file_size"`
	MimeType         string    `gorm:"size:100;not null" json:"mime_type"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	Format           string    `gorm:"size:10" json:"format"`
	CloudTypes       []string  `gorm:"serializer:json;type:json" json:"cloud_types,omitempty"`
	AnalysisStatus   string    `gorm:"size:20;not null;default:pending" json:"analysis_status"`
	AnalysisError    string    `gorm:"type:text" json:"analysis_error,omitempty"`
	IsPublic         bool      `gorm:"not null;default:true" json:"is_public"`
	IsFeatured       bool      `gorm:"not null;default:false" json:"is_featured"`
	ViewCount        int64     `gorm:"not null;default:0" json:"view_count"`
	DownloadCount    int64     `gorm:"not null;default:0" json:"download_count"`
	UserID           *uint     `gorm:"index" json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (i *Image) BeforeCreate(*gorm.DB) error {
	i.UUID = ensureUUID(i.UUID)
	if i.AnalysisStatus == "" {
		i.AnalysisStatus = AnalysisPending
	}
	return nil
}
