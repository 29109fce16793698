package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
	"github.com/wengyuechuan/rag-backend/internal/models"
)

// chatRepository 聊天仓库实现
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建聊天仓库
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// CreateSession 创建会话
func (r *chatRepository) CreateSession(ctx context.Context, session *models.ChatSession) error {
	now := time.Now()
	session.CreateTime = now
	session.UpdateTime = now
	return r.db.WithContext(ctx).Create(session).Error
}

// GetSession 根据ID获取会话
func (r *chatRepository) GetSession(ctx context.Context, id uint) (*models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.WithContext(ctx).Where("session_id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("chat session")
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions 分页获取知识库下的会话
func (r *chatRepository) ListSessions(ctx context.Context, kbID uint, page, limit int) ([]models.ChatSession, int64, error) {
	var sessions []models.ChatSession
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ChatSession{}).Where("knowledge_base_id = ?", kbID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("update_time DESC").Offset(offset).Limit(limit).Find(&sessions).Error; err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// UpdateSession 更新会话
func (r *chatRepository) UpdateSession(ctx context.Context, id uint, updates map[string]interface{}) error {
	updates["update_time"] = time.Now()
	return r.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("session_id = ?", id).
		Updates(updates).Error
}

// DeleteSession 删除会话及其消息
func (r *chatRepository) DeleteSession(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ?", id).Delete(&models.ChatSession{}).Error
	})
}

// CreateMessage 创建消息
func (r *chatRepository) CreateMessage(ctx context.Context, message *models.ChatMessage) error {
	message.CreateTime = time.Now()
	return r.db.WithContext(ctx).Create(message).Error
}

// RecentMessages 取会话最近n条消息，返回时按时间升序
func (r *chatRepository) RecentMessages(ctx context.Context, sessionID uint, n int) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("message_id DESC").
		Limit(n).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// 反转为时间升序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListMessages 分页获取会话消息，按时间升序
func (r *chatRepository) ListMessages(ctx context.Context, sessionID uint, page, limit int) ([]models.ChatMessage, int64, error) {
	var messages []models.ChatMessage
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ChatMessage{}).Where("session_id = ?", sessionID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("message_id ASC").Offset(offset).Limit(limit).Find(&messages).Error; err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}
