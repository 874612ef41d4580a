package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docchat/internal/model"
)

const messageCountSelect = "chat_sessions.*, (SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = chat_sessions.id) AS message_count"

type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

type SessionFilter struct {
	UserID    uint
	Search    string
	IsStarred *bool
	Page
}

// TurnStart describes the writes made when a user message arrives. A nil
// SessionID creates a new session. When SetDocs is true the attachment set is
// replaced by DocumentIDs, which may be empty.
type TurnStart struct {
	UserID      uint
	SessionID   *uuid.UUID
	Content     string
	DocumentIDs []uuid.UUID
	SetDocs     bool
}

// BeginTurn locks or creates the session, replaces its attachments when asked
// and stores the user message, all in one transaction. Attachments are limited
// to completed documents owned by the user. ErrNotFound means the session does
// not exist or belongs to someone else.
func (r *ChatRepository) BeginTurn(ctx context.Context, in TurnStart) (*model.ChatSession, *model.ChatMessage, error) {
	var session model.ChatSession
	var message model.ChatMessage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.SessionID != nil {
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ? AND user_id = ?", *in.SessionID, in.UserID).
				First(&session).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("lock chat session failed: %w", err)
			}
		} else {
			session = model.ChatSession{UserID: in.UserID}
			if err := tx.Omit(clause.Associations).Create(&session).Error; err != nil {
				return fmt.Errorf("create chat session failed: %w", err)
			}
		}

		if in.SetDocs {
			docs := []model.Document{}
			if len(in.DocumentIDs) > 0 {
				err := tx.Where("owner_id = ? AND status = ? AND id IN ?",
					in.UserID, model.DocumentStatusCompleted, in.DocumentIDs).
					Find(&docs).Error
				if err != nil {
					return fmt.Errorf("load attachable documents failed: %w", err)
				}
			}
			if err := tx.Model(&session).Association("AttachedDocuments").Replace(docs); err != nil {
				return fmt.Errorf("replace attached documents failed: %w", err)
			}
		}

		message = model.ChatMessage{
			SessionID: session.ID,
			Role:      model.ChatRoleUser,
			Content:   in.Content,
		}
		if err := tx.Create(&message).Error; err != nil {
			return fmt.Errorf("create user message failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &session, &message, nil
}

// CompleteTurn stores the assistant reply and bumps last_message_at.
func (r *ChatRepository) CompleteTurn(ctx context.Context, message *model.ChatMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("create assistant message failed: %w", err)
		}
		err := tx.Model(&model.ChatSession{}).
			Where("id = ?", message.SessionID).
			Updates(map[string]interface{}{"last_message_at": time.Now(), "updated_at": time.Now()}).Error
		if err != nil {
			return fmt.Errorf("update last message time failed: %w", err)
		}
		return nil
	})
}

// AttachedDocuments returns the completed documents attached to a session.
func (r *ChatRepository) AttachedDocuments(ctx context.Context, sessionID uuid.UUID) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Joins("JOIN chat_session_documents csd ON csd.document_id = documents.id").
		Where("csd.chat_session_id = ? AND documents.status = ?", sessionID, model.DocumentStatusCompleted).
		Order("documents.created_at ASC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list attached documents failed: %w", err)
	}
	return docs, nil
}

// ListMessages returns a session's messages in chronological order.
func (r *ChatRepository) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list chat messages failed: %w", err)
	}
	return messages, nil
}

// ListSessions returns one page of sessions, most recently active first.
func (r *ChatRepository) ListSessions(ctx context.Context, filter SessionFilter) ([]model.ChatSession, int64, error) {
	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&model.ChatSession{}).Where("chat_sessions.user_id = ?", filter.UserID)
		if filter.Search != "" {
			q = q.Where("chat_sessions.title ILIKE ?", likePattern(filter.Search))
		}
		if filter.IsStarred != nil {
			q = q.Where("chat_sessions.is_starred = ?", *filter.IsStarred)
		}
		return q
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count chat sessions failed: %w", err)
	}

	var sessions []model.ChatSession
	err := scoped().
		Select(messageCountSelect).
		Preload("AttachedDocuments").
		Order("chat_sessions.last_message_at DESC NULLS LAST, chat_sessions.updated_at DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list chat sessions failed: %w", err)
	}
	return sessions, total, nil
}

func (r *ChatRepository) GetSession(ctx context.Context, id uuid.UUID, userID uint, withMessages bool) (*model.ChatSession, error) {
	q := r.db.WithContext(ctx).
		Select(messageCountSelect).
		Preload("AttachedDocuments")
	if withMessages {
		q = q.Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		})
	}

	var session model.ChatSession
	if err := q.Where("chat_sessions.id = ? AND chat_sessions.user_id = ?", id, userID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat session failed: %w", err)
	}
	return &session, nil
}

func (r *ChatRepository) UpdateSession(ctx context.Context, id uuid.UUID, userID uint, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update chat session failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteSession removes a session. Messages and attachment rows cascade.
func (r *ChatRepository) DeleteSession(ctx context.Context, id uuid.UUID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.ChatSession{})
	if res.Error != nil {
		return false, fmt.Errorf("delete chat session failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
