package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	MessageTypeUser      = "user"
	MessageTypeAssistant = "assistant"
	MessageTypeSystem    = "system"
)

type ChatSession struct {
	ID             uint          `gorm:"primaryKey" json:"-"`
	UUID           string        `gorm:"size:36;not null;uniqueIndex" json:"id"`
	Title          string        `gorm:"size:255" json:"title"`
	Description    string        `gorm:"type:text" json:"description,omitempty"`
	IsActive       bool          `gorm:"not null;default:true" json:"is_active"`
	IsStarred      bool          `gorm:"not null;default:false" json:"is_starred"`
	UserID         *uint         `gorm:"index" json:"-"`
	LastActivityAt time.Time     `gorm:"index" json:"last_activity_at"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Messages       []ChatMessage `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (s *ChatSession) BeforeCreate(*gorm.DB) error {
	s.UUID = ensureUUID(s.UUID)
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = time.Now()
	}
	return nil
}

// ChatMessage is one user turn together with the assistant's reply.
type ChatMessage struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	UUID             string    `gorm:"size:36;not null;uniqueIndex" json:"id"`
	SessionID        uint      `gorm:"not null;index" json:"-"`
	Message          string    `gorm:"type:text;not null" json:"message"`
	MessageType      string    `gorm:"size:16;not null;default:user" json:"message_type"`
	AIResponse       string    `gorm:"type:longtext" json:"ai_response"`
	ModelUsed        string    `gorm:"size:100" json:"model_used,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	ImageAttached    bool      `gorm:"not null;default:false" json:"image_attached"`
	ImageID          *uint     `gorm:"index" json:"-"`
	Image            *Image    `gorm:"foreignKey:ImageID;constraint:OnDelete:SET NULL" json:"-"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

func (m *ChatMessage) BeforeCreate(*gorm.DB) error {
	m.UUID = ensureUUID(m.UUID)
	if m.MessageType == "" {
		m.MessageType = MessageTypeUser
	}
	return nil
}

// All lists every persisted model in migration order.
func All() []any {
	return []any{&User{}, &Image{}, &Blog{}, &ChatSession{}, &ChatMessage{}}
}

// ChatRecord is the queued form of a finished exchange.
type ChatRecord struct {
	SessionUUID      string    `json:"session_id"`
	UserID           *uint     `json:"user_id,omitempty"`
	MessageUUID      string    `json:"message_id"`
	Message          string    `json:"message"`
	AIResponse       string    `json:"ai_response"`
	ModelUsed        string    `json:"model_used"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	ImageAttached    bool      `json:"image_attached"`
	CreatedAt        time.Time `json:"created_at"`
}

func (r ChatRecord) ChatMessage() *ChatMessage {
	return &ChatMessage{
		UUID:             r.MessageUUID,
		Message:          r.Message,
		MessageType:      MessageTypeUser,
		AIResponse:       r.AIResponse,
		ModelUsed:        r.ModelUsed,
		ProcessingTimeMs: r.ProcessingTimeMs,
		ImageAttached:    r.ImageAttached,
		CreatedAt:        r.CreatedAt,
	}
}
