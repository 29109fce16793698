package repository

import (
	"context"

	"github.com/wengyuechuan/rag-backend/internal/models"
)

// KnowledgeBaseRepository 知识库仓库接口
type KnowledgeBaseRepository interface {
	Create(ctx context.Context, kb *models.KnowledgeBase) error
	GetByID(ctx context.Context, id uint) (*models.KnowledgeBase, error)
	List(ctx context.Context, page, limit int, search string) ([]models.KnowledgeBase, int64, error)
	Update(ctx context.Context, id uint, updates map[string]interface{}) error
	Delete(ctx context.Context, id uint) error
	// AddAggregates 累加文档数与分块数统计
	AddAggregates(ctx context.Context, id uint, docDelta, chunkDelta int) error
}

// DocumentRepository 文档仓库接口
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id uint) (*models.Document, error)
	ListByKnowledgeBase(ctx context.Context, kbID uint, page, limit int, status string) ([]models.Document, int64, error)
	Update(ctx context.Context, id uint, updates map[string]interface{}) error
	Delete(ctx context.Context, id uint) error
}

// ChunkRepository 分块仓库接口
type ChunkRepository interface {
	CreateBatch(ctx context.Context, chunks []*models.DocumentChunk) error
	Update(ctx context.Context, id uint, updates map[string]interface{}) error
	ListByDocument(ctx context.Context, documentID uint) ([]models.DocumentChunk, error)
	ListByKnowledgeBase(ctx context.Context, kbID uint) ([]models.DocumentChunk, error)
	DeleteByDocument(ctx context.Context, documentID uint) (int64, error)
}

// ChatRepository 聊天仓库接口
type ChatRepository interface {
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id uint) (*models.ChatSession, error)
	ListSessions(ctx context.Context, kbID uint, page, limit int) ([]models.ChatSession, int64, error)
	UpdateSession(ctx context.Context, id uint, updates map[string]interface{}) error
	DeleteSession(ctx context.Context, id uint) error
	CreateMessage(ctx context.Context, message *models.ChatMessage) error
	// RecentMessages 返回会话最近的n条消息，按时间升序
	RecentMessages(ctx context.Context, sessionID uint, n int) ([]models.ChatMessage, error)
	ListMessages(ctx context.Context, sessionID uint, page, limit int) ([]models.ChatMessage, int64, error)
}
