package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID                 uint       `gorm:"primaryKey" json:"-"`
	UUID               string     `gorm:"size:36;not null;uniqueIndex" json:"id"`
	Email              string     `gorm:"size:255;not null;uniqueIndex" json:"-"`
	Username           string     `gorm:"size:100;not null;uniqueIndex" json:"username"`
	HashedPassword     string     `gorm:"size:255;not null" json:"-"`
	FullName           string     `gorm:"size:255" json:"full_name,omitempty"`
	Bio                string     `gorm:"type:text" json:"bio,omitempty"`
	AvatarURL          string     `gorm:"size:500" json:"avatar_url,omitempty"`
	IsActive           bool       `gorm:"not null;default:true" json:"-"`
	IsVerified         bool       `gorm:"not null;default:false" json:"is_verified"`
	IsSuperuser        bool       `gorm:"not null;default:false" json:"-"`
	EmailNotifications bool       `gorm:"not null;default:true" json:"-"`
	PublicProfile      bool       `gorm:"not null;default:true" json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"-"`
	LastLogin          *time.Time `json:"-"`

	Blogs        []Blog        `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE" json:"-"`
	Images       []Image       `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	ChatSessions []ChatSession `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	u.UUID = ensureUUID(u.UUID)
	return nil
}

func ensureUUID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}
