package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
	"github.com/wengyuechuan/rag-backend/internal/knowledge"
	"github.com/wengyuechuan/rag-backend/internal/logger"
	"github.com/wengyuechuan/rag-backend/internal/models"
	"github.com/wengyuechuan/rag-backend/internal/repository"
)

const docStatusKeyFormat = "knowledge:doc:status:%d"

// TripleStore 知识图谱写入接口
type TripleStore interface {
	InsertTriplesBatch(ctx context.Context, triples []knowledge.Triple, batchSize int) (knowledge.BatchResult, error)
}

// DocumentProcessingOptions 文档processing服务依赖
type DocumentProcessingOptions struct {
	KnowledgeBases repository.KnowledgeBaseRepository
	Documents      repository.DocumentRepository
	Chunks         repository.ChunkRepository
	ChunkStore     knowledge.ChunkStore

	// StatusCache 可选，文档状态的redis缓存
	StatusCache *redis.Client
	StatusTTL   time.Duration

	EmbedderFactory  knowledge.EmbedderFactory
	ExtractorFactory func() knowledge.Extractor
	GraphFactory     func() (TripleStore, error)
	GraphBatchSize   int

	// IndexPath 可选，向量索引的磁盘持久化根目录
	IndexPath string

	Workers   int
	QueueSize int
}

// DocumentProcessingService 文档处理编排：分块、向量化、实体抽取、图谱写入。
// 每个知识库的向量索引、抽取器、图谱客户端按需创建并缓存
type DocumentProcessingService struct {
	kbs        repository.KnowledgeBaseRepository
	docs       repository.DocumentRepository
	chunks     repository.ChunkRepository
	chunkStore knowledge.ChunkStore

	statusCache *redis.Client
	statusTTL   time.Duration

	embedderFactory  knowledge.EmbedderFactory
	extractorFactory func() knowledge.Extractor
	graphFactory     func() (TripleStore, error)
	graphBatchSize   int
	indexPath        string

	graphEngine *knowledge.GraphSearchEngine

	cacheMu      sync.Mutex
	vectorStores map[uint]*knowledge.VectorIndex
	extractors   map[uint]knowledge.Extractor
	graphStores  map[uint]TripleStore

	taskMu   sync.Mutex
	inFlight map[uint]bool
	tasks    chan uint
	wg       sync.WaitGroup
}

// NewDocumentProcessingService 创建服务并启动工作协程
func NewDocumentProcessingService(opts DocumentProcessingOptions) *DocumentProcessingService {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.GraphBatchSize <= 0 {
		opts.GraphBatchSize = 100
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 5 * time.Minute
	}

	s := &DocumentProcessingService{
		kbs:              opts.KnowledgeBases,
		docs:             opts.Documents,
		chunks:           opts.Chunks,
		chunkStore:       opts.ChunkStore,
		statusCache:      opts.StatusCache,
		statusTTL:        opts.StatusTTL,
		embedderFactory:  opts.EmbedderFactory,
		extractorFactory: opts.ExtractorFactory,
		graphFactory:     opts.GraphFactory,
		graphBatchSize:   opts.GraphBatchSize,
		indexPath:        opts.IndexPath,
		vectorStores:     make(map[uint]*knowledge.VectorIndex),
		extractors:       make(map[uint]knowledge.Extractor),
		graphStores:      make(map[uint]TripleStore),
		inFlight:         make(map[uint]bool),
		tasks:            make(chan uint, opts.QueueSize),
	}
	if opts.ChunkStore != nil {
		s.graphEngine = knowledge.NewGraphSearchEngine(opts.ChunkStore)
	}

	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *DocumentProcessingService) worker() {
	defer s.wg.Done()
	for documentID := range s.tasks {
		s.processDocument(context.Background(), documentID)
		s.taskMu.Lock()
		delete(s.inFlight, documentID)
		s.taskMu.Unlock()
	}
}

// Submit 提交文档处理任务。同一文档已在队列或处理中时不重复入队，
// 返回任务是否被接受
func (s *DocumentProcessingService) Submit(documentID uint) bool {
	s.taskMu.Lock()
	if s.inFlight[documentID] {
		s.taskMu.Unlock()
		logger.Info("文档已在处理队列中，跳过", zap.Uint("document_id", documentID))
		return false
	}
	s.inFlight[documentID] = true
	s.taskMu.Unlock()

	select {
	case s.tasks <- documentID:
		return true
	default:
		s.taskMu.Lock()
		delete(s.inFlight, documentID)
		s.taskMu.Unlock()
		logger.Warn("处理队列已满，任务被拒绝", zap.Uint("document_id", documentID))
		return false
	}
}

// Shutdown 停止接收新任务并等待在途任务完成
func (s *DocumentProcessingService) Shutdown() {
	close(s.tasks)
	s.wg.Wait()
}

// Reprocess 重新处理文档：清空旧分块后重新入队。
// 仅允许completed或failed状态的文档重处理
func (s *DocumentProcessingService) Reprocess(ctx context.Context, documentID uint) error {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != models.DocumentStatusCompleted && doc.Status != models.DocumentStatusFailed {
		return apperrors.NewBusinessError(apperrors.ErrCodeInvalidState,
			fmt.Sprintf("document in status %s cannot be reprocessed", doc.Status))
	}

	// 清理旧向量，chunk ID会在重建后变化
	if vs := s.cachedVectorStore(doc.KnowledgeBaseID); vs != nil {
		oldChunks, err := s.chunks.ListByDocument(ctx, documentID)
		if err == nil {
			ids := make([]string, 0, len(oldChunks))
			for _, chunk := range oldChunks {
				if chunk.VectorID != "" {
					ids = append(ids, chunk.VectorID)
				}
			}
			if len(ids) > 0 {
				if _, err := vs.DeleteByIDs(ctx, ids); err != nil {
					logger.Warn("旧向量清理失败", zap.Uint("document_id", documentID), zap.Error(err))
				} else {
					s.persistVectorIndex(doc.KnowledgeBaseID, vs)
				}
			}
		}
	}

	if _, err := s.chunks.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}

	err = s.docs.Update(ctx, documentID, map[string]interface{}{
		"status":         models.DocumentStatusPending,
		"error_message":  "",
		"chunk_count":    0,
		"entity_count":   0,
		"relation_count": 0,
		"vector_stored":  false,
		"graph_stored":   false,
	})
	if err != nil {
		return err
	}

	if !s.Submit(documentID) {
		return apperrors.NewBusinessError(apperrors.ErrCodeTooManyRequests, "processing queue is full")
	}
	return nil
}

// processDocument 执行完整处理流水线，任何阶段的致命错误都会把文档置为failed
func (s *DocumentProcessingService) processDocument(ctx context.Context, documentID uint) {
	start := time.Now()

	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		logger.Error("文档不存在，放弃处理", zap.Uint("document_id", documentID), zap.Error(err))
		return
	}
	kb, err := s.kbs.GetByID(ctx, doc.KnowledgeBaseID)
	if err != nil {
		logger.Error("知识库不存在，放弃处理",
			zap.Uint("document_id", documentID),
			zap.Uint("knowledge_base_id", doc.KnowledgeBaseID),
			zap.Error(err))
		return
	}

	s.setStatus(ctx, documentID, models.DocumentStatusProcessing, "")

	if err := s.runPipeline(ctx, doc, kb, start); err != nil {
		logger.Error("文档处理失败",
			zap.Uint("document_id", documentID),
			zap.String("title", doc.Title),
			zap.Error(err))
		s.setStatus(ctx, documentID, models.DocumentStatusFailed, err.Error())
	}
}

func (s *DocumentProcessingService) runPipeline(ctx context.Context, doc *models.Document, kb *models.KnowledgeBase, start time.Time) error {
	// 1. 分块
	strategy, size, overlap := kb.ChunkStrategyFor(doc)
	chunker, err := knowledge.NewChunker(size, overlap)
	if err != nil {
		return err
	}

	spans := chunker.Split(doc.Content, knowledge.ChunkStrategy(strategy), detectLanguage(doc.Content))
	if len(spans) == 0 {
		return apperrors.NewProcessingError("no chunks produced from document content")
	}

	records := make([]*models.DocumentChunk, len(spans))
	for i, span := range spans {
		records[i] = &models.DocumentChunk{
			DocumentID: doc.DocumentID,
			Content:    span.Text,
			ChunkIndex: span.Index,
			ChunkType:  strategy,
			StartPos:   span.StartPos,
			EndPos:     span.EndPos,
			CharCount:  len([]rune(span.Text)),
			WordCount:  len(strings.Fields(span.Text)),
		}
	}
	if err := s.chunks.CreateBatch(ctx, records); err != nil {
		return apperrors.NewProcessingError("failed to persist chunks").WithCause(err)
	}

	// 2. 向量化，失败只记录不中断
	vectorStored := false
	if kb.EnableVectorStore {
		vectorStored = s.vectorizeChunks(ctx, kb, records)
	}

	// 3. 实体关系抽取，逐块进行，单块失败跳过
	entityCount, relationCount, triples := 0, 0, []knowledge.Triple(nil)
	if kb.EnableNER {
		entityCount, relationCount, triples = s.extractChunks(ctx, kb, records)
	}

	// 4. 图谱写入
	graphStored := false
	if kb.EnableKnowledgeGraph && kb.EnableNER && len(triples) > 0 {
		graphStored = s.storeTriples(ctx, kb, triples)
	}

	// 5. 统计回写
	processingTime := time.Since(start).Seconds()
	now := time.Now()
	err = s.docs.Update(ctx, doc.DocumentID, map[string]interface{}{
		"status":          models.DocumentStatusCompleted,
		"error_message":   "",
		"chunk_count":     len(records),
		"char_count":      len([]rune(doc.Content)),
		"word_count":      len(strings.Fields(doc.Content)),
		"entity_count":    entityCount,
		"relation_count":  relationCount,
		"vector_stored":   vectorStored,
		"graph_stored":    graphStored,
		"processing_time": processingTime,
		"processed_at":    &now,
	})
	if err != nil {
		return apperrors.NewProcessingError("failed to update document stats").WithCause(err)
	}
	s.cacheStatus(ctx, doc.DocumentID, models.DocumentStatusCompleted)

	if err := s.kbs.AddAggregates(ctx, kb.KnowledgeBaseID, 1, len(records)); err != nil {
		logger.Warn("知识库统计更新失败", zap.Uint("knowledge_base_id", kb.KnowledgeBaseID), zap.Error(err))
	}

	logger.Info("文档处理完成",
		zap.Uint("document_id", doc.DocumentID),
		zap.Int("chunks", len(records)),
		zap.Int("entities", entityCount),
		zap.Int("relations", relationCount),
		zap.Bool("vector_stored", vectorStored),
		zap.Bool("graph_stored", graphStored),
		zap.Float64("seconds", processingTime))
	return nil
}

// vectorizeChunks 整批写入向量索引，返回是否成功
func (s *DocumentProcessingService) vectorizeChunks(ctx context.Context, kb *models.KnowledgeBase, records []*models.DocumentChunk) bool {
	vs := s.vectorStore(kb)
	if vs == nil {
		return false
	}

	texts := make([]string, len(records))
	metadatas := make([]map[string]interface{}, len(records))
	ids := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.Content
		ids[i] = fmt.Sprintf("chunk_%d", record.ChunkID)
		metadatas[i] = map[string]interface{}{
			"chunk_id":    record.ChunkID,
			"document_id": record.DocumentID,
			"chunk_index": record.ChunkIndex,
		}
	}

	if _, err := vs.AddTexts(ctx, texts, metadatas, ids); err != nil {
		logger.Error("分块向量化失败",
			zap.Uint("knowledge_base_id", kb.KnowledgeBaseID),
			zap.Error(err))
		return false
	}

	for i, record := range records {
		err := s.chunks.Update(ctx, record.ChunkID, map[string]interface{}{
			"vector_id":       ids[i],
			"embedding_model": kb.EmbeddingModel,
			"has_embedding":   true,
		})
		if err != nil {
			logger.Warn("分块向量信息更新失败", zap.Uint("chunk_id", record.ChunkID), zap.Error(err))
		}
		record.VectorID = ids[i]
		record.HasEmbedding = true
	}
	s.persistVectorIndex(kb.KnowledgeBaseID, vs)
	return true
}

// extractChunks 逐块抽取实体关系，返回去重实体数、关系总数和扁平化三元组
func (s *DocumentProcessingService) extractChunks(ctx context.Context, kb *models.KnowledgeBase, records []*models.DocumentChunk) (int, int, []knowledge.Triple) {
	ex := s.extractor(kb)
	if ex == nil {
		return 0, 0, nil
	}

	entitySet := make(map[string]bool)
	relationCount := 0
	var triples []knowledge.Triple

	for _, record := range records {
		chunkID := fmt.Sprintf("chunk_%d", record.ChunkID)
		result, err := ex.ProcessText(ctx, record.Content, chunkID)
		if err != nil {
			logger.Warn("分块实体抽取失败，跳过",
				zap.Uint("chunk_id", record.ChunkID),
				zap.Error(err))
			continue
		}

		names := make([]string, 0, len(result.Entities))
		for _, entity := range result.Entities {
			names = append(names, entity.Name)
			entitySet[entity.Name] = true
		}
		relationCount += len(result.Relations)

		entitiesJSON, _ := json.Marshal(names)
		relationsJSON, _ := json.Marshal(result.Relations)
		err = s.chunks.Update(ctx, record.ChunkID, map[string]interface{}{
			"entities":  string(entitiesJSON),
			"relations": string(relationsJSON),
		})
		if err != nil {
			logger.Warn("分块标注写入失败", zap.Uint("chunk_id", record.ChunkID), zap.Error(err))
		}

		for _, rel := range result.Relations {
			triples = append(triples, knowledge.Triple{
				Subject:     rel.Subject,
				SubjectType: rel.SubjectType,
				Predicate:   rel.Predicate,
				Object:      rel.Object,
				ObjectType:  rel.ObjectType,
			})
		}
	}
	return len(entitySet), relationCount, triples
}

// storeTriples 批量写入图谱，返回是否有成功写入
func (s *DocumentProcessingService) storeTriples(ctx context.Context, kb *models.KnowledgeBase, triples []knowledge.Triple) bool {
	gs := s.graphStore(kb)
	if gs == nil {
		return false
	}

	result, err := gs.InsertTriplesBatch(ctx, triples, s.graphBatchSize)
	if err != nil {
		logger.Error("图谱写入失败", zap.Uint("knowledge_base_id", kb.KnowledgeBaseID), zap.Error(err))
		return false
	}
	logger.Info("图谱写入完成",
		zap.Uint("knowledge_base_id", kb.KnowledgeBaseID),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed))
	return result.Success > 0
}

// SearchDocuments 向量检索知识库
func (s *DocumentProcessingService) SearchDocuments(ctx context.Context, kbID uint, query string, topK int) ([]knowledge.SearchResult, error) {
	kb, err := s.kbs.GetByID(ctx, kbID)
	if err != nil {
		return nil, err
	}
	// 向量检索未启用的知识库返回空结果而不是报错
	if !kb.EnableVectorStore {
		return []knowledge.SearchResult{}, nil
	}

	vs := s.vectorStore(kb)
	if vs == nil {
		return []knowledge.SearchResult{}, nil
	}
	return vs.Search(ctx, query, topK)
}

// SearchGraph 图式检索知识库
func (s *DocumentProcessingService) SearchGraph(ctx context.Context, kbID uint, query string, topK int) ([]knowledge.EntityMatch, error) {
	if s.graphEngine == nil {
		return nil, apperrors.NewConfigurationError("graph search is not configured")
	}
	if _, err := s.kbs.GetByID(ctx, kbID); err != nil {
		return nil, err
	}
	return s.graphEngine.Search(ctx, kbID, query, topK)
}

// vectorStore 获取知识库的向量索引，创建失败时缓存nil使该功能不可用
func (s *DocumentProcessingService) vectorStore(kb *models.KnowledgeBase) *knowledge.VectorIndex {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if vs, ok := s.vectorStores[kb.KnowledgeBaseID]; ok {
		return vs
	}

	var vs *knowledge.VectorIndex
	if s.embedderFactory != nil {
		if dir := s.indexDir(kb.KnowledgeBaseID); dir != "" {
			if _, statErr := os.Stat(filepath.Join(dir, "metadata.json")); statErr == nil {
				loaded, err := knowledge.LoadVectorIndex(dir, s.embedderFactory)
				if err != nil {
					logger.Warn("向量索引加载失败，重建空索引",
						zap.Uint("knowledge_base_id", kb.KnowledgeBaseID),
						zap.Error(err))
				} else {
					s.vectorStores[kb.KnowledgeBaseID] = loaded
					logger.Info("向量索引已从磁盘加载",
						zap.Uint("knowledge_base_id", kb.KnowledgeBaseID),
						zap.Int("documents", loaded.Count()))
					return loaded
				}
			}
		}

		created, err := knowledge.NewVectorIndex(
			s.embedderFactory(kb.EmbeddingModel), knowledge.IndexTypeFlat, knowledge.MetricCosine)
		if err != nil {
			logger.Error("向量索引创建失败",
				zap.Uint("knowledge_base_id", kb.KnowledgeBaseID),
				zap.Error(err))
		} else {
			vs = created
		}
	}
	s.vectorStores[kb.KnowledgeBaseID] = vs
	return vs
}

// indexDir 知识库索引的持久化目录，未配置时返回空串
func (s *DocumentProcessingService) indexDir(kbID uint) string {
	if s.indexPath == "" {
		return ""
	}
	return filepath.Join(s.indexPath, fmt.Sprintf("kb_%d", kbID))
}

// persistVectorIndex 将索引落盘，失败只记录日志
func (s *DocumentProcessingService) persistVectorIndex(kbID uint, vs *knowledge.VectorIndex) {
	dir := s.indexDir(kbID)
	if dir == "" || vs == nil {
		return
	}
	if err := vs.Save(dir); err != nil {
		logger.Warn("向量索引落盘失败", zap.Uint("knowledge_base_id", kbID), zap.Error(err))
	}
}

// cachedVectorStore 只读缓存，不触发创建
func (s *DocumentProcessingService) cachedVectorStore(kbID uint) *knowledge.VectorIndex {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.vectorStores[kbID]
}

func (s *DocumentProcessingService) extractor(kb *models.KnowledgeBase) knowledge.Extractor {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if ex, ok := s.extractors[kb.KnowledgeBaseID]; ok {
		return ex
	}
	var ex knowledge.Extractor
	if s.extractorFactory != nil {
		ex = s.extractorFactory()
	}
	s.extractors[kb.KnowledgeBaseID] = ex
	return ex
}

func (s *DocumentProcessingService) graphStore(kb *models.KnowledgeBase) TripleStore {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if gs, ok := s.graphStores[kb.KnowledgeBaseID]; ok {
		return gs
	}
	var gs TripleStore
	if s.graphFactory != nil {
		created, err := s.graphFactory()
		if err != nil {
			logger.Error("图谱客户端创建失败",
				zap.Uint("knowledge_base_id", kb.KnowledgeBaseID),
				zap.Error(err))
		} else {
			gs = created
		}
	}
	s.graphStores[kb.KnowledgeBaseID] = gs
	return gs
}

// setStatus 更新数据库状态并同步redis缓存
func (s *DocumentProcessingService) setStatus(ctx context.Context, documentID uint, status, errorMessage string) {
	updates := map[string]interface{}{"status": status}
	if status == models.DocumentStatusFailed {
		updates["error_message"] = errorMessage
	}
	if err := s.docs.Update(ctx, documentID, updates); err != nil {
		logger.Error("文档状态更新失败",
			zap.Uint("document_id", documentID),
			zap.String("status", status),
			zap.Error(err))
	}
	s.cacheStatus(ctx, documentID, status)
}

func (s *DocumentProcessingService) cacheStatus(ctx context.Context, documentID uint, status string) {
	if s.statusCache == nil {
		return
	}
	key := fmt.Sprintf(docStatusKeyFormat, documentID)
	if err := s.statusCache.Set(ctx, key, status, s.statusTTL).Err(); err != nil {
		logger.Warn("文档状态缓存失败", zap.Uint("document_id", documentID), zap.Error(err))
	}
}

// CachedStatus 从redis读取文档状态，未命中返回空串
func (s *DocumentProcessingService) CachedStatus(ctx context.Context, documentID uint) string {
	if s.statusCache == nil {
		return ""
	}
	status, err := s.statusCache.Get(ctx, fmt.Sprintf(docStatusKeyFormat, documentID)).Result()
	if err != nil {
		return ""
	}
	return status
}

// detectLanguage 粗粒度语言判断，出现CJK字符即按中文处理
func detectLanguage(text string) string {
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			return "zh"
		}
	}
	return "en"
}
