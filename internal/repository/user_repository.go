package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docchat/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user failed: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.first(ctx, "query user by username", "username = ?", username)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.first(ctx, "query user by email", "email = ?", email)
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	return r.first(ctx, "query user by id", "id = ?", id)
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id uint, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update user profile failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete removes the user with their chat sessions and documents in one
// transaction and returns the storage URLs of the removed documents.
// Messages, attachments and chunks go with their parents.
func (r *UserRepository) Delete(ctx context.Context, id uint) ([]string, bool, error) {
	var (
		urls    []string
		deleted bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Document{}).
			Where("owner_id = ? AND storage_url IS NOT NULL AND storage_url <> ''", id).
			Pluck("storage_url", &urls).Error; err != nil {
			return fmt.Errorf("collect document files failed: %w", err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.ChatSession{}).Error; err != nil {
			return fmt.Errorf("delete chat sessions failed: %w", err)
		}
		if err := tx.Where("owner_id = ?", id).Delete(&model.Document{}).Error; err != nil {
			return fmt.Errorf("delete documents failed: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&model.User{})
		if res.Error != nil {
			return fmt.Errorf("delete user failed: %w", res.Error)
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return urls, deleted, nil
}

func (r *UserRepository) first(ctx context.Context, op, query string, arg interface{}) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	return &user, nil
}
