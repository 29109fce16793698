package models

import "time"

// 文档处理状态
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// 分块策略
const (
	ChunkStrategySemantic  = "semantic"
	ChunkStrategyFixed     = "fixed"
	ChunkStrategyRecursive = "recursive"
	ChunkStrategyParagraph = "paragraph"
)

// KnowledgeBase 知识库
type KnowledgeBase struct {
	KnowledgeBaseID uint   `gorm:"primaryKey;column:knowledge_base_id" json:"knowledge_base_id"`
	Name            string `gorm:"size:200;not null" json:"name"`
	Description     string `gorm:"type:text" json:"description"`

	// 分块默认配置，文档可单独覆盖
	DefaultChunkStrategy string `gorm:"size:20;default:semantic" json:"default_chunk_strategy"`
	DefaultChunkSize     int    `gorm:"default:500" json:"default_chunk_size"`
	DefaultChunkOverlap  int    `gorm:"default:100" json:"default_chunk_overlap"`

	// 功能开关
	EnableVectorStore    bool `gorm:"default:true" json:"enable_vector_store"`
	EnableKnowledgeGraph bool `gorm:"default:false" json:"enable_knowledge_graph"`
	EnableNER            bool `gorm:"default:false" json:"enable_ner"`

	EmbeddingModel string `gorm:"size:100;default:nomic-embed-text" json:"embedding_model"`

	// 统计字段
	DocumentCount int `gorm:"default:0" json:"document_count"`
	TotalChunks   int `gorm:"default:0" json:"total_chunks"`

	CreateTime time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime time.Time `gorm:"column:update_time" json:"update_time"`

	// 关系
	Documents []Document `gorm:"foreignKey:KnowledgeBaseID"`
}

func (KnowledgeBase) TableName() string {
	return "knowledge_bases"
}

// ChunkStrategyFor 返回文档生效的分块配置，文档覆盖优先于知识库默认
func (kb *KnowledgeBase) ChunkStrategyFor(doc *Document) (strategy string, size, overlap int) {
	strategy = kb.DefaultChunkStrategy
	size = kb.DefaultChunkSize
	overlap = kb.DefaultChunkOverlap
	if doc.ChunkStrategy != nil && *doc.ChunkStrategy != "" {
		strategy = *doc.ChunkStrategy
	}
	if doc.ChunkSize != nil && *doc.ChunkSize > 0 {
		size = *doc.ChunkSize
	}
	if doc.ChunkOverlap != nil {
		overlap = *doc.ChunkOverlap
	}
	return strategy, size, overlap
}

// Document 知识库文档
type Document struct {
	DocumentID      uint          `gorm:"primaryKey;column:document_id" json:"document_id"`
	KnowledgeBaseID uint          `gorm:"column:knowledge_base_id;not null;index" json:"knowledge_base_id"`
	KnowledgeBase   KnowledgeBase `gorm:"foreignKey:KnowledgeBaseID"`
	Title           string        `gorm:"size:200;not null" json:"title"`
	Content         string        `gorm:"type:text;not null" json:"content"`
	Source          string        `gorm:"size:20;default:manual" json:"source"`
	FilePath        string        `gorm:"size:500" json:"file_path"`
	Author          string        `gorm:"size:100" json:"author"`
	Category        string        `gorm:"size:100" json:"category"`
	Tags            string        `gorm:"type:json" json:"tags"`

	// 分块配置覆盖，nil表示沿用知识库默认
	ChunkStrategy *string `gorm:"size:20" json:"chunk_strategy"`
	ChunkSize     *int    `json:"chunk_size"`
	ChunkOverlap  *int    `json:"chunk_overlap"`

	Status       string `gorm:"size:20;default:pending;index" json:"status"`
	ErrorMessage string `gorm:"type:text" json:"error_message"`

	// 统计字段
	CharCount     int  `gorm:"default:0" json:"char_count"`
	WordCount     int  `gorm:"default:0" json:"word_count"`
	ChunkCount    int  `gorm:"default:0" json:"chunk_count"`
	EntityCount   int  `gorm:"default:0" json:"entity_count"`
	RelationCount int  `gorm:"default:0" json:"relation_count"`
	VectorStored  bool `gorm:"default:false" json:"vector_stored"`
	GraphStored   bool `gorm:"default:false" json:"graph_stored"`

	ProcessingTime float64    `gorm:"default:0" json:"processing_time"`
	ProcessedAt    *time.Time `gorm:"column:processed_at" json:"processed_at"`
	CreateTime     time.Time  `gorm:"column:create_time" json:"create_time"`
	UpdateTime     time.Time  `gorm:"column:update_time" json:"update_time"`

	// 关系
	Chunks []DocumentChunk `gorm:"foreignKey:DocumentID"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentChunk 文档分块
type DocumentChunk struct {
	ChunkID    uint     `gorm:"primaryKey;column:chunk_id" json:"chunk_id"`
	DocumentID uint     `gorm:"column:document_id;not null;index" json:"document_id"`
	Document   Document `gorm:"foreignKey:DocumentID"`
	Content    string   `gorm:"type:text;not null" json:"content"`
	ChunkIndex int      `gorm:"not null;index" json:"chunk_index"`
	ChunkType  string   `gorm:"size:20;default:text" json:"chunk_type"`

	// 在原文中的位置
	StartPos int `gorm:"column:start_pos;default:0" json:"start_pos"`
	EndPos   int `gorm:"column:end_pos;default:0" json:"end_pos"`

	CharCount int `gorm:"default:0" json:"char_count"`
	WordCount int `gorm:"default:0" json:"word_count"`

	// 向量化信息
	VectorID       string `gorm:"size:255" json:"vector_id"`
	EmbeddingModel string `gorm:"size:100" json:"embedding_model"`
	HasEmbedding   bool   `gorm:"default:false" json:"has_embedding"`

	// NER抽取结果，JSON字符串
	Entities  string `gorm:"type:json" json:"entities"`
	Relations string `gorm:"type:json" json:"relations"`
	Keywords  string `gorm:"type:json" json:"keywords"`

	CreateTime time.Time `gorm:"column:create_time" json:"create_time"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}
