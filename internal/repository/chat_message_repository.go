package repository

import (
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cloutopia/internal/model"
)

const sessionTitleRunes = 60

type ChatMessageRepository struct {
	db *gorm.DB
}

func NewChatMessageRepository(db *gorm.DB) *ChatMessageRepository {
	return &ChatMessageRepository{db: db}
}

// ListBySessionID returns the latest limit messages of a session, oldest
// first. A limit of zero or less returns the whole history.
func (r *ChatMessageRepository) ListBySessionID(sessionID uint, limit int) ([]model.ChatMessage, error) {
	query := r.db.Where("session_id = ?", sessionID).
		Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var messages []model.ChatMessage
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list chat messages failed: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

// SaveExchange stores msg under the session identified by sessionUUID,
// creating the session on first use. A message whose UUID is already stored
// is skipped, so redelivered records are harmless.
func (r *ChatMessageRepository) SaveExchange(sessionUUID string, userID *uint, msg *model.ChatMessage) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var session model.ChatSession
		err := tx.Where("uuid = ?", sessionUUID).First(&session).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			session = model.ChatSession{
				UUID:   sessionUUID,
				UserID: userID,
				Title:  sessionTitle(msg.Message),
			}
			if err := tx.Create(&session).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		}

		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		msg.SessionID = session.ID
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&session).Update("last_activity_at", msg.CreatedAt).Error
	})
	if err != nil {
		return fmt.Errorf("save chat exchange failed: %w", err)
	}
	return nil
}

func sessionTitle(message string) string {
	if utf8.RuneCountInString(message) <= sessionTitleRunes {
		return message
	}
	runes := []rune(message)
	return string(runes[:sessionTitleRunes]) + "..."
}
