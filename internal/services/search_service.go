package services

import (
	"context"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
	"github.com/wengyuechuan/rag-backend/internal/knowledge"
)

// VectorSearchHit 向量检索命中
type VectorSearchHit struct {
	ChunkID    uint                   `json:"chunk_id"`
	DocumentID uint                   `json:"document_id"`
	ChunkIndex int                    `json:"chunk_index"`
	Content    string                 `json:"content"`
	Score      float64                `json:"score"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// SearchResponse 综合检索结果
type SearchResponse struct {
	Query         string                 `json:"query"`
	VectorResults []VectorSearchHit      `json:"vector_results,omitempty"`
	GraphResults  []knowledge.EntityMatch `json:"graph_results,omitempty"`
}

// SearchService 检索服务，封装向量检索与图检索
type SearchService struct {
	processor *DocumentProcessingService
}

// NewSearchService 创建检索服务
func NewSearchService(processor *DocumentProcessingService) *SearchService {
	return &SearchService{processor: processor}
}

// VectorSearch 向量检索
func (s *SearchService) VectorSearch(ctx context.Context, kbID uint, query string, topK int) ([]VectorSearchHit, error) {
	if query == "" {
		return nil, apperrors.NewInvalidInputError("query", "must not be empty")
	}

	results, err := s.processor.SearchDocuments(ctx, kbID, query, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]VectorSearchHit, 0, len(results))
	for _, result := range results {
		hit := VectorSearchHit{
			Content:  result.Text,
			Score:    result.Score,
			Metadata: result.Metadata,
		}
		if result.Metadata != nil {
			hit.ChunkID = metadataUint(result.Metadata, "chunk_id")
			hit.DocumentID = metadataUint(result.Metadata, "document_id")
			hit.ChunkIndex = int(metadataUint(result.Metadata, "chunk_index"))
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// GraphSearch 图检索
func (s *SearchService) GraphSearch(ctx context.Context, kbID uint, query string, topK int) ([]knowledge.EntityMatch, error) {
	if query == "" {
		return nil, apperrors.NewInvalidInputError("query", "must not be empty")
	}
	return s.processor.SearchGraph(ctx, kbID, query, topK)
}

// Search 综合检索，向量与图检索按开关分别执行，一路失败不影响另一路
func (s *SearchService) Search(ctx context.Context, kbID uint, query string, topK int, useVector, useGraph bool) (*SearchResponse, error) {
	if query == "" {
		return nil, apperrors.NewInvalidInputError("query", "must not be empty")
	}

	response := &SearchResponse{Query: query}
	var vectorErr, graphErr error

	if useVector {
		response.VectorResults, vectorErr = s.VectorSearch(ctx, kbID, query, topK)
	}
	if useGraph {
		response.GraphResults, graphErr = s.GraphSearch(ctx, kbID, query, topK)
	}

	if vectorErr != nil && (graphErr != nil || !useGraph) {
		return nil, vectorErr
	}
	if graphErr != nil && !useVector {
		return nil, graphErr
	}
	return response, nil
}

// metadataUint 元数据数值字段兼容JSON反序列化出的float64
func metadataUint(metadata map[string]interface{}, key string) uint {
	switch value := metadata[key].(type) {
	case uint:
		return value
	case int:
		return uint(value)
	case int64:
		return uint(value)
	case float64:
		return uint(value)
	default:
		return 0
	}
}
