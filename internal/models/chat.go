package models

import "time"

// 消息角色
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"
)

// ChatSession 聊天会话
type ChatSession struct {
	SessionID       uint          `gorm:"primaryKey;column:session_id" json:"session_id"`
	KnowledgeBaseID uint          `gorm:"column:knowledge_base_id;not null;index" json:"knowledge_base_id"`
	KnowledgeBase   KnowledgeBase `gorm:"foreignKey:KnowledgeBaseID"`
	Title           string        `gorm:"size:200;not null" json:"title"`

	// 检索开关
	UseVectorSearch bool `gorm:"default:true" json:"use_vector_search"`
	UseGraphSearch  bool `gorm:"default:false" json:"use_graph_search"`
	SearchTopK      int  `gorm:"default:5" json:"search_top_k"`

	// 统计字段
	MessageCount int `gorm:"default:0" json:"message_count"`
	TotalTokens  int `gorm:"default:0" json:"total_tokens"`

	CreateTime time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime time.Time `gorm:"column:update_time" json:"update_time"`

	// 关系
	Messages []ChatMessage `gorm:"foreignKey:SessionID"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 聊天消息
type ChatMessage struct {
	MessageID uint        `gorm:"primaryKey;column:message_id" json:"message_id"`
	SessionID uint        `gorm:"column:session_id;not null;index" json:"session_id"`
	Session   ChatSession `gorm:"foreignKey:SessionID"`
	Role      string      `gorm:"size:20;not null" json:"role"`
	Content   string      `gorm:"type:text;not null" json:"content"`

	// 检索上下文，JSON字符串
	RetrievedChunks   string `gorm:"type:json" json:"retrieved_chunks"`
	RetrievedEntities string `gorm:"type:json" json:"retrieved_entities"`
	ContextUsed       bool   `gorm:"default:false" json:"context_used"`

	TokenCount     int       `gorm:"default:0" json:"token_count"`
	ProcessingTime float64   `gorm:"default:0" json:"processing_time"`
	CreateTime     time.Time `gorm:"column:create_time" json:"create_time"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
