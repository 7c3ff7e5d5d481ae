package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cloutopia/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByUUID(id string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("uuid = ? AND is_active = ?", id, true).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by uuid failed: %w", err)
	}
	return &user, nil
}
