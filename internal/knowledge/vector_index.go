package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
)

const (
	indexFileName    = "index.gob"
	metadataFileName = "metadata.json"
)

// IndexEntry 索引中的一条文档记录
type IndexEntry struct {
	DocID    string                 `json:"doc_id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// SearchResult 向量检索结果
type SearchResult struct {
	DocID    string                 `json:"doc_id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
	Score    float64                `json:"score"`
}

// VectorIndex 文本向量索引，组合嵌入服务与底层最近邻结构。
// 维度在首次写入时从嵌入向量推断
type VectorIndex struct {
	mu sync.RWMutex

	embedder  Embedder
	indexType IndexType
	metric    DistanceMetric

	dim         int
	index       nnIndex
	docs        map[int]*IndexEntry
	docIDToSlot map[string]int
	currentSlot int
}

// NewVectorIndex 创建向量索引，组合合法性见validateIndexConfig
func NewVectorIndex(embedder Embedder, indexType IndexType, metric DistanceMetric) (*VectorIndex, error) {
	if embedder == nil {
		return nil, apperrors.NewConfigurationError("embedder is required")
	}
	if err := validateIndexConfig(indexType, metric); err != nil {
		return nil, err
	}
	return &VectorIndex{
		embedder:    embedder,
		indexType:   indexType,
		metric:      metric,
		docs:        make(map[int]*IndexEntry),
		docIDToSlot: make(map[string]int),
	}, nil
}

// AddTexts 批量写入文本。先整批嵌入，任一失败则索引不变。
// ids为空时按doc_<槽位>自动生成，返回实际使用的ID列表
func (v *VectorIndex) AddTexts(ctx context.Context, texts []string, metadatas []map[string]interface{}, ids []string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if metadatas != nil && len(metadatas) != len(texts) {
		return nil, apperrors.NewInvalidInputError("metadatas", "length must match texts")
	}
	if ids != nil && len(ids) != len(texts) {
		return nil, apperrors.NewInvalidInputError("ids", "length must match texts")
	}

	vectors, err := v.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if v.metric == MetricCosine {
		for _, vec := range vectors {
			normalize(vec)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.addLocked(texts, metadatas, ids, vectors)
}

func (v *VectorIndex) addLocked(texts []string, metadatas []map[string]interface{}, ids []string, vectors [][]float32) ([]string, error) {
	if v.index == nil {
		v.dim = len(vectors[0])
		index, err := newNNIndex(v.indexType, v.underlyingMetric(), v.dim)
		if err != nil {
			return nil, err
		}
		v.index = index
	}

	// IVF首批数据同时作为训练集
	if ivf, ok := v.index.(*ivfIndex); ok && !ivf.Trained {
		if err := ivf.Train(vectors); err != nil {
			return nil, err
		}
	}

	if err := v.index.Add(vectors); err != nil {
		return nil, err
	}

	usedIDs := make([]string, len(texts))
	for i, text := range texts {
		docID := ""
		if ids != nil {
			docID = ids[i]
		}
		if docID == "" {
			docID = fmt.Sprintf("doc_%d", v.currentSlot)
		}

		var metadata map[string]interface{}
		if metadatas != nil {
			metadata = metadatas[i]
		}

		v.docs[v.currentSlot] = &IndexEntry{DocID: docID, Text: text, Metadata: metadata}
		v.docIDToSlot[docID] = v.currentSlot
		v.currentSlot++
		usedIDs[i] = docID
	}
	return usedIDs, nil
}

// underlyingMetric Cosine归一化后在底层索引中等价于内积
func (v *VectorIndex) underlyingMetric() DistanceMetric {
	if v.metric == MetricCosine {
		return MetricInnerProduct
	}
	return v.metric
}

// Search 按查询文本检索topK条记录
func (v *VectorIndex) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	vector, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return v.SearchByVector(vector, topK)
}

// SearchByVector 按向量检索，空索引返回空结果
func (v *VectorIndex) SearchByVector(vector []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	query := append([]float32(nil), vector...)
	if v.metric == MetricCosine {
		normalize(query)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.index == nil || v.index.Len() == 0 {
		return []SearchResult{}, nil
	}

	slots, raw, err := v.index.Search(query, topK)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(slots))
	for i, slot := range slots {
		if slot < 0 {
			continue
		}
		entry, ok := v.docs[slot]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			DocID:    entry.DocID,
			Text:     entry.Text,
			Metadata: entry.Metadata,
			Score:    similarityScore(v.metric, raw[i]),
		})
	}
	return results, nil
}

// similarityScore L2距离映射为1/(1+d)，内积直接作为相似度
func similarityScore(metric DistanceMetric, raw float32) float64 {
	if metric == MetricL2 {
		return 1.0 / (1.0 + float64(raw))
	}
	return float64(raw)
}

// DeleteByIDs 删除指定ID的记录并重建索引，存活文本按原槽位顺序重新嵌入。
// 返回实际删除的条数，未命中的ID忽略
func (v *VectorIndex) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	doomed := make(map[int]bool, len(ids))
	for _, id := range ids {
		slot, ok := v.docIDToSlot[id]
		if !ok || doomed[slot] {
			continue
		}
		doomed[slot] = true
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	deleted := len(doomed)

	// 收集存活记录，保持插入顺序；重建成功之前不触碰现有状态
	survivors := make([]*IndexEntry, 0, len(v.docs)-deleted)
	for slot := 0; slot < v.currentSlot; slot++ {
		if entry, ok := v.docs[slot]; ok && !doomed[slot] {
			survivors = append(survivors, entry)
		}
	}

	if len(survivors) == 0 {
		v.index = nil
		v.docs = make(map[int]*IndexEntry)
		v.docIDToSlot = make(map[string]int)
		v.currentSlot = 0
		return deleted, nil
	}

	texts := make([]string, len(survivors))
	for i, entry := range survivors {
		texts[i] = entry.Text
	}

	vectors, err := v.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if v.metric == MetricCosine {
		for _, vec := range vectors {
			normalize(vec)
		}
	}

	index, err := newNNIndex(v.indexType, v.underlyingMetric(), len(vectors[0]))
	if err != nil {
		return 0, err
	}
	if ivf, ok := index.(*ivfIndex); ok {
		if err := ivf.Train(vectors); err != nil {
			return 0, err
		}
	}
	if err := index.Add(vectors); err != nil {
		return 0, err
	}

	docs := make(map[int]*IndexEntry, len(survivors))
	docIDToSlot := make(map[string]int, len(survivors))
	for i, entry := range survivors {
		docs[i] = entry
		docIDToSlot[entry.DocID] = i
	}

	v.index = index
	v.dim = len(vectors[0])
	v.docs = docs
	v.docIDToSlot = docIDToSlot
	v.currentSlot = len(survivors)
	return deleted, nil
}

// Count 返回索引中的记录数
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.docs)
}

// Contains 判断ID是否在索引中
func (v *VectorIndex) Contains(docID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.docIDToSlot[docID]
	return ok
}

// indexManifest 持久化清单
type indexManifest struct {
	Dimension      int                    `json:"dimension"`
	IndexType      IndexType              `json:"index_type"`
	Metric         DistanceMetric         `json:"metric"`
	CurrentIdx     int                    `json:"current_idx"`
	EmbeddingModel string                 `json:"embedding_model"`
	Documents      map[string]*IndexEntry `json:"documents"`
	DocIDToIdx     map[string]int         `json:"doc_id_to_idx"`
}

// Save 将索引结构与文档清单写入目录
func (v *VectorIndex) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.index != nil {
		file, err := os.Create(filepath.Join(dir, indexFileName))
		if err != nil {
			return err
		}
		if err := writeNNIndex(file, v.indexType, v.index); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}
	}

	manifest := indexManifest{
		Dimension:      v.dim,
		IndexType:      v.indexType,
		Metric:         v.metric,
		CurrentIdx:     v.currentSlot,
		EmbeddingModel: v.embedder.Model(),
		Documents:      make(map[string]*IndexEntry, len(v.docs)),
		DocIDToIdx:     v.docIDToSlot,
	}
	for slot, entry := range v.docs {
		manifest.Documents[strconv.Itoa(slot)] = entry
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metadataFileName), data, 0o644)
}

// LoadVectorIndex 从目录恢复索引，嵌入服务按清单记录的模型名重建
func LoadVectorIndex(dir string, factory EmbedderFactory) (*VectorIndex, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		return nil, apperrors.NewNotFoundError("vector index").WithCause(err)
	}

	var manifest indexManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeIndexCorrupted, "failed to parse index metadata").WithCause(err)
	}

	v, err := NewVectorIndex(factory(manifest.EmbeddingModel), manifest.IndexType, manifest.Metric)
	if err != nil {
		return nil, err
	}
	v.dim = manifest.Dimension
	v.currentSlot = manifest.CurrentIdx
	v.docIDToSlot = manifest.DocIDToIdx
	if v.docIDToSlot == nil {
		v.docIDToSlot = make(map[string]int)
	}
	for key, entry := range manifest.Documents {
		slot, err := strconv.Atoi(key)
		if err != nil {
			return nil, apperrors.NewBusinessError(apperrors.ErrCodeIndexCorrupted, "invalid document slot in metadata").WithCause(err)
		}
		v.docs[slot] = entry
	}

	indexPath := filepath.Join(dir, indexFileName)
	if _, err := os.Stat(indexPath); err == nil {
		file, err := os.Open(indexPath)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		indexType, index, err := readNNIndex(file)
		if err != nil {
			return nil, err
		}
		if indexType != manifest.IndexType {
			return nil, apperrors.NewBusinessError(apperrors.ErrCodeIndexCorrupted, "index type mismatch between data and metadata")
		}
		v.index = index
	}

	return v, nil
}

// normalize 原地归一化，分母加1e-8避免零向量除零
func normalize(vec []float32) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum)) + 1e-8
	for i := range vec {
		vec[i] /= norm
	}
}
