package app

import (
	"log/slog"

	"cloutopia/internal/model"
)

type UserStore interface {
	GetByUUID(id string) (*model.User, error)
}

// resolveUserID maps a token's public user id to the internal key. Unknown
// users and lookup failures resolve to anonymous.
func resolveUserID(users UserStore, userID string, logger *slog.Logger) *uint {
	if userID == "" || users == nil {
		return nil
	}
	user, err := users.GetByUUID(userID)
	if err != nil {
		logger.Warn("resolve user failed", "user_id", userID, "error", err)
		return nil
	}
	if user == nil {
		return nil
	}
	return &user.ID
}
