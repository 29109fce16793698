package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
	"github.com/wengyuechuan/rag-backend/internal/models"
)

// fakeKBRepo 内存知识库仓库
type fakeKBRepo struct {
	mu     sync.Mutex
	nextID uint
	kbs    map[uint]*models.KnowledgeBase
}

func newFakeKBRepo() *fakeKBRepo {
	return &fakeKBRepo{nextID: 1, kbs: make(map[uint]*models.KnowledgeBase)}
}

func (f *fakeKBRepo) Create(ctx context.Context, kb *models.KnowledgeBase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb.KnowledgeBaseID = f.nextID
	f.nextID++
	stored := *kb
	f.kbs[kb.KnowledgeBaseID] = &stored
	return nil
}

func (f *fakeKBRepo) GetByID(ctx context.Context, id uint) (*models.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("knowledge base")
	}
	clone := *kb
	return &clone, nil
}

func (f *fakeKBRepo) List(ctx context.Context, page, limit int, search string) ([]models.KnowledgeBase, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.KnowledgeBase
	for _, kb := range f.kbs {
		out = append(out, *kb)
	}
	return out, int64(len(out)), nil
}

func (f *fakeKBRepo) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
	if !ok {
		return apperrors.NewNotFoundError("knowledge base")
	}
	if v, ok := updates["name"]; ok {
		kb.Name = v.(string)
	}
	if v, ok := updates["description"]; ok {
		kb.Description = v.(string)
	}
	if v, ok := updates["default_chunk_strategy"]; ok {
		kb.DefaultChunkStrategy = v.(string)
	}
	if v, ok := updates["default_chunk_size"]; ok {
		kb.DefaultChunkSize = v.(int)
	}
	if v, ok := updates["default_chunk_overlap"]; ok {
		kb.DefaultChunkOverlap = v.(int)
	}
	if v, ok := updates["enable_vector_store"]; ok {
		kb.EnableVectorStore = v.(bool)
	}
	if v, ok := updates["enable_knowledge_graph"]; ok {
		kb.EnableKnowledgeGraph = v.(bool)
	}
	if v, ok := updates["enable_ner"]; ok {
		kb.EnableNER = v.(bool)
	}
	return nil
}

func (f *fakeKBRepo) Delete(ctx context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.kbs, id)
	return nil
}

func (f *fakeKBRepo) AddAggregates(ctx context.Context, id uint, docDelta, chunkDelta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
	if !ok {
		return apperrors.NewNotFoundError("knowledge base")
	}
	kb.DocumentCount += docDelta
	kb.TotalChunks += chunkDelta
	return nil
}

// fakeDocRepo 内存文档仓库
type fakeDocRepo struct {
	mu     sync.Mutex
	nextID uint
	docs   map[uint]*models.Document
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{nextID: 1, docs: make(map[uint]*models.Document)}
}

func (f *fakeDocRepo) Create(ctx context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc.DocumentID = f.nextID
	f.nextID++
	if doc.Status == "" {
		doc.Status = models.DocumentStatusPending
	}
	stored := *doc
	f.docs[doc.DocumentID] = &stored
	return nil
}

func (f *fakeDocRepo) GetByID(ctx context.Context, id uint) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("document")
	}
	clone := *doc
	return &clone, nil
}

func (f *fakeDocRepo) ListByKnowledgeBase(ctx context.Context, kbID uint, page, limit int, status string) ([]models.Document, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, doc := range f.docs {
		if doc.KnowledgeBaseID != kbID {
			continue
		}
		if status != "" && doc.Status != status {
			continue
		}
		out = append(out, *doc)
	}
	return out, int64(len(out)), nil
}

func (f *fakeDocRepo) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return apperrors.NewNotFoundError("document")
	}
	if v, ok := updates["status"]; ok {
		doc.Status = v.(string)
	}
	if v, ok := updates["error_message"]; ok {
		doc.ErrorMessage = v.(string)
	}
	if v, ok := updates["chunk_count"]; ok {
		doc.ChunkCount = v.(int)
	}
	if v, ok := updates["entity_count"]; ok {
		doc.EntityCount = v.(int)
	}
	if v, ok := updates["relation_count"]; ok {
		doc.RelationCount = v.(int)
	}
	if v, ok := updates["vector_stored"]; ok {
		doc.VectorStored = v.(bool)
	}
	if v, ok := updates["graph_stored"]; ok {
		doc.GraphStored = v.(bool)
	}
	return nil
}

func (f *fakeDocRepo) Delete(ctx context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func TestKnowledgeBaseCreateDefaults(t *testing.T) {
	svc := NewKnowledgeBaseService(newFakeKBRepo(), newFakeDocRepo())

	kb, err := svc.Create(context.Background(), &CreateKnowledgeBaseRequest{Name: "  测试库  "})
	require.NoError(t, err)

	assert.Equal(t, "测试库", kb.Name)
	assert.Equal(t, models.ChunkStrategySemantic, kb.DefaultChunkStrategy)
	assert.Equal(t, 500, kb.DefaultChunkSize)
	assert.Equal(t, 100, kb.DefaultChunkOverlap)
	assert.True(t, kb.EnableVectorStore)
	assert.False(t, kb.EnableKnowledgeGraph)
	assert.Equal(t, "nomic-embed-text", kb.EmbeddingModel)
	assert.NotZero(t, kb.KnowledgeBaseID)
}

func TestKnowledgeBaseCreateValidation(t *testing.T) {
	svc := NewKnowledgeBaseService(newFakeKBRepo(), newFakeDocRepo())

	_, err := svc.Create(context.Background(), &CreateKnowledgeBaseRequest{Name: "   "})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

	_, err = svc.Create(context.Background(), &CreateKnowledgeBaseRequest{
		Name:                 "库",
		DefaultChunkStrategy: "magic",
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

	_, err = svc.Create(context.Background(), &CreateKnowledgeBaseRequest{
		Name:                "库",
		DefaultChunkSize:    100,
		DefaultChunkOverlap: 100,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))
}

func TestKnowledgeBaseCreateOverrides(t *testing.T) {
	svc := NewKnowledgeBaseService(newFakeKBRepo(), newFakeDocRepo())

	off := false
	kb, err := svc.Create(context.Background(), &CreateKnowledgeBaseRequest{
		Name:                 "自定义库",
		DefaultChunkStrategy: models.ChunkStrategyRecursive,
		DefaultChunkSize:     800,
		DefaultChunkOverlap:  80,
		EnableVectorStore:    &off,
		EmbeddingModel:       "text-embedding-3-small",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ChunkStrategyRecursive, kb.DefaultChunkStrategy)
	assert.Equal(t, 800, kb.DefaultChunkSize)
	assert.Equal(t, 80, kb.DefaultChunkOverlap)
	assert.False(t, kb.EnableVectorStore)
	assert.Equal(t, "text-embedding-3-small", kb.EmbeddingModel)
}

func TestKnowledgeBaseUpdate(t *testing.T) {
	repo := newFakeKBRepo()
	svc := NewKnowledgeBaseService(repo, newFakeDocRepo())

	kb, err := svc.Create(context.Background(), &CreateKnowledgeBaseRequest{Name: "原名"})
	require.NoError(t, err)

	newName := "新名"
	newStrategy := models.ChunkStrategyParagraph
	updated, err := svc.Update(context.Background(), kb.KnowledgeBaseID, &UpdateKnowledgeBaseRequest{
		Name:                 &newName,
		DefaultChunkStrategy: &newStrategy,
	})
	require.NoError(t, err)
	assert.Equal(t, "新名", updated.Name)
	assert.Equal(t, models.ChunkStrategyParagraph, updated.DefaultChunkStrategy)
}

func TestKnowledgeBaseUpdateValidatesEffectiveChunking(t *testing.T) {
	svc := NewKnowledgeBaseService(newFakeKBRepo(), newFakeDocRepo())

	kb, err := svc.Create(context.Background(), &CreateKnowledgeBaseRequest{Name: "库"})
	require.NoError(t, err)

	// 默认size=500，只把overlap提到500以上应被拒绝
	overlap := 600
	_, err = svc.Update(context.Background(), kb.KnowledgeBaseID, &UpdateKnowledgeBaseRequest{
		DefaultChunkOverlap: &overlap,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))

	// size和overlap一起改到合法组合则通过
	size := 1000
	updated, err := svc.Update(context.Background(), kb.KnowledgeBaseID, &UpdateKnowledgeBaseRequest{
		DefaultChunkSize:    &size,
		DefaultChunkOverlap: &overlap,
	})
	require.NoError(t, err)
	assert.Equal(t, 1000, updated.DefaultChunkSize)
	assert.Equal(t, 600, updated.DefaultChunkOverlap)
}

func TestKnowledgeBaseUpdateNotFound(t *testing.T) {
	svc := NewKnowledgeBaseService(newFakeKBRepo(), newFakeDocRepo())
	_, err := svc.Update(context.Background(), 99, &UpdateKnowledgeBaseRequest{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResourceNotFound))
}

func TestKnowledgeBaseDelete(t *testing.T) {
	repo := newFakeKBRepo()
	svc := NewKnowledgeBaseService(repo, newFakeDocRepo())

	kb, err := svc.Create(context.Background(), &CreateKnowledgeBaseRequest{Name: "待删"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), kb.KnowledgeBaseID))
	_, err = svc.Get(context.Background(), kb.KnowledgeBaseID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResourceNotFound))

	err = svc.Delete(context.Background(), 99)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResourceNotFound))
}

func TestKnowledgeBaseStats(t *testing.T) {
	kbRepo := newFakeKBRepo()
	docRepo := newFakeDocRepo()
	svc := NewKnowledgeBaseService(kbRepo, docRepo)

	kb, err := svc.Create(context.Background(), &CreateKnowledgeBaseRequest{Name: "统计库"})
	require.NoError(t, err)
	require.NoError(t, kbRepo.AddAggregates(context.Background(), kb.KnowledgeBaseID, 3, 12))

	for _, status := range []string{
		models.DocumentStatusCompleted,
		models.DocumentStatusCompleted,
		models.DocumentStatusFailed,
	} {
		doc := &models.Document{KnowledgeBaseID: kb.KnowledgeBaseID, Title: "d", Content: "c", Status: status}
		require.NoError(t, docRepo.Create(context.Background(), doc))
	}

	stats, err := svc.Stats(context.Background(), kb.KnowledgeBaseID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.DocumentCount)
	assert.Equal(t, 12, stats.TotalChunks)
	assert.Equal(t, int64(2), stats.CompletedCount)
	assert.Equal(t, int64(1), stats.FailedCount)
	assert.Equal(t, int64(0), stats.PendingCount)
}
