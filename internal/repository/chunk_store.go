package repository

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wengyuechuan/rag-backend/internal/knowledge"
	"github.com/wengyuechuan/rag-backend/internal/logger"
)

// annotatedChunkStore 把分块表的JSON标注列解码为图检索数据源
type annotatedChunkStore struct {
	chunks ChunkRepository
}

// NewAnnotatedChunkStore 创建图检索数据源
func NewAnnotatedChunkStore(chunks ChunkRepository) knowledge.ChunkStore {
	return &annotatedChunkStore{chunks: chunks}
}

// AnnotatedChunks 返回知识库下全部带标注的分块，标注列解码失败时跳过该列
func (s *annotatedChunkStore) AnnotatedChunks(ctx context.Context, knowledgeBaseID uint) ([]knowledge.AnnotatedChunk, error) {
	records, err := s.chunks.ListByKnowledgeBase(ctx, knowledgeBaseID)
	if err != nil {
		return nil, err
	}

	annotated := make([]knowledge.AnnotatedChunk, 0, len(records))
	for i := range records {
		record := &records[i]
		chunk := knowledge.AnnotatedChunk{
			ChunkID:    record.ChunkID,
			DocumentID: record.DocumentID,
			ChunkIndex: record.ChunkIndex,
			Content:    record.Content,
		}

		if record.Entities != "" {
			if err := json.Unmarshal([]byte(record.Entities), &chunk.Entities); err != nil {
				logger.Warn("分块实体标注解码失败",
					zap.Uint("chunk_id", record.ChunkID), zap.Error(err))
			}
		}
		if record.Relations != "" {
			if err := json.Unmarshal([]byte(record.Relations), &chunk.Relations); err != nil {
				logger.Warn("分块关系标注解码失败",
					zap.Uint("chunk_id", record.ChunkID), zap.Error(err))
			}
		}

		annotated = append(annotated, chunk)
	}
	return annotated, nil
}
