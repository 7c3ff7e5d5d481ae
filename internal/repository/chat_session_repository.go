package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cloutopia/internal/model"
)

type ChatSessionRepository struct {
	db *gorm.DB
}

func NewChatSessionRepository(db *gorm.DB) *ChatSessionRepository {
	return &ChatSessionRepository{db: db}
}

func (r *ChatSessionRepository) GetByUUID(id string) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := r.db.Where("uuid = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat session failed: %w", err)
	}
	return &session, nil
}

func (r *ChatSessionRepository) ListByUserID(userID uint, limit int) ([]model.ChatSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var sessions []model.ChatSession
	if err := r.db.Where("user_id = ?", userID).
		Order("last_activity_at DESC").
		Limit(limit).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list chat sessions failed: %w", err)
	}
	return sessions, nil
}

// Delete removes a session; its messages go with it through the cascade.
func (r *ChatSessionRepository) Delete(sessionID uint) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.ChatSession{}, sessionID).Error
	})
	if err != nil {
		return fmt.Errorf("delete chat session failed: %w", err)
	}
	return nil
}
