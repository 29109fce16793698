package knowledge

import (
	"context"
	"sort"
	"strings"
)

// Relation 实体关系三元组
type Relation struct {
	Subject     string   `json:"subject"`
	SubjectType string   `json:"subject_type"`
	Predicate   string   `json:"predicate"`
	Object      string   `json:"object"`
	ObjectType  string   `json:"object_type"`
	Confidence  float64  `json:"confidence"`
	ChunkIDs    []string `json:"chunk_ids,omitempty"`
	Contexts    []string `json:"contexts,omitempty"`
}

// AnnotatedChunk 带抽取标注的分块，图检索的数据源
type AnnotatedChunk struct {
	ChunkID    uint
	DocumentID uint
	ChunkIndex int
	Content    string
	Entities   []string
	Relations  []Relation
}

// ChunkStore 提供知识库下全部标注分块
type ChunkStore interface {
	AnnotatedChunks(ctx context.Context, knowledgeBaseID uint) ([]AnnotatedChunk, error)
}

// RelatedEntity 命中实体的一跳邻居
type RelatedEntity struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Relation string `json:"relation"`
}

// MatchedRelation 命中实体参与的关系
type MatchedRelation struct {
	Subject   string  `json:"subject"`
	Predicate string  `json:"predicate"`
	Object    string  `json:"object"`
	Confidence float64 `json:"confidence"`
	ChunkID   uint    `json:"chunk_id"`
}

// MatchedChunk 支撑命中实体的分块
type MatchedChunk struct {
	ChunkID    uint   `json:"chunk_id"`
	DocumentID uint   `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

// EntityMatch 图检索的单个实体命中
type EntityMatch struct {
	EntityName      string            `json:"entity_name"`
	EntityType      string            `json:"entity_type"`
	RelatedEntities []RelatedEntity   `json:"related_entities"`
	Relations       []MatchedRelation `json:"relations"`
	Chunks          []MatchedChunk    `json:"chunks"`
	RelevanceScore  float64           `json:"relevance_score"`
}

// ScoreWeights 图检索打分权重
type ScoreWeights struct {
	ExactMatch     float64
	PartialMatch   float64
	RelationWeight float64
	RelationCap    float64
	ChunkWeight    float64
	ChunkCap       float64
}

// DefaultScoreWeights 人工调参得到的默认权重
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		ExactMatch:     1.0,
		PartialMatch:   0.7,
		RelationWeight: 0.1,
		RelationCap:    0.5,
		ChunkWeight:    0.05,
		ChunkCap:       0.3,
	}
}

const (
	maxRelatedEntities = 5
	maxMatchedRelations = 10
	defaultEntityType  = "Concept"
)

// GraphSearchEngine 基于实体标注的图式检索
type GraphSearchEngine struct {
	store   ChunkStore
	Weights ScoreWeights
}

// NewGraphSearchEngine 创建图检索引擎
func NewGraphSearchEngine(store ChunkStore) *GraphSearchEngine {
	return &GraphSearchEngine{
		store:   store,
		Weights: DefaultScoreWeights(),
	}
}

// entityAccumulator 单个实体的聚合状态
type entityAccumulator struct {
	name       string
	entityType string
	exact      bool
	partial    bool

	related     []RelatedEntity
	relatedSeen map[string]bool

	relations []MatchedRelation

	chunks     []MatchedChunk
	chunkSeen  map[uint]bool
}

// Search 在知识库的标注分块上做实体匹配，返回按相关度排序的前topK个实体
func (g *GraphSearchEngine) Search(ctx context.Context, knowledgeBaseID uint, query string, topK int) ([]EntityMatch, error) {
	if topK <= 0 {
		topK = 5
	}

	chunks, err := g.store.AnnotatedChunks(ctx, knowledgeBaseID)
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" {
		return []EntityMatch{}, nil
	}

	matched := make(map[string]*entityAccumulator)

	get := func(name, entityType string) *entityAccumulator {
		key := strings.ToLower(name)
		acc, ok := matched[key]
		if !ok {
			acc = &entityAccumulator{
				name:        name,
				entityType:  entityType,
				relatedSeen: make(map[string]bool),
				chunkSeen:   make(map[uint]bool),
			}
			matched[key] = acc
		}
		// 基础分档位只看实体名与查询的关系，仅被关系波及的实体不拿基础分
		switch {
		case key == queryLower:
			acc.exact = true
		case strings.Contains(key, queryLower) || strings.Contains(queryLower, key):
			acc.partial = true
		}
		if acc.entityType == "" || acc.entityType == defaultEntityType {
			if entityType != "" {
				acc.entityType = entityType
			}
		}
		return acc
	}

	for i := range chunks {
		chunk := &chunks[i]

		// 实体名与查询做双向不区分大小写的子串匹配
		for _, entity := range chunk.Entities {
			entityLower := strings.ToLower(entity)
			if entityLower == "" {
				continue
			}
			if !strings.Contains(entityLower, queryLower) && !strings.Contains(queryLower, entityLower) {
				continue
			}
			acc := get(entity, defaultEntityType)
			acc.addChunk(chunk)
		}

		// 关系命中同时计入主语和宾语两个实体
		for _, rel := range chunk.Relations {
			if !relationMatches(&rel, queryLower) {
				continue
			}

			subjectType := orDefault(rel.SubjectType)
			objectType := orDefault(rel.ObjectType)

			subject := get(rel.Subject, subjectType)
			subject.addRelation(rel, chunk.ChunkID)
			subject.addRelated(rel.Object, objectType, rel.Predicate)
			subject.addChunk(chunk)

			object := get(rel.Object, objectType)
			object.addRelation(rel, chunk.ChunkID)
			object.addRelated(rel.Subject, subjectType, rel.Predicate)
			object.addChunk(chunk)
		}
	}

	results := make([]EntityMatch, 0, len(matched))
	for _, acc := range matched {
		results = append(results, EntityMatch{
			EntityName:      acc.name,
			EntityType:      orDefault(acc.entityType),
			RelatedEntities: acc.related,
			Relations:       acc.relations,
			Chunks:          acc.chunks,
			RelevanceScore:  g.score(acc),
		})
	}

	// 分数相同按实体名排序保证结果稳定
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].EntityName < results[j].EntityName
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// score 基础分+关系加成+分块加成，封顶1.0
func (g *GraphSearchEngine) score(acc *entityAccumulator) float64 {
	var base float64
	switch {
	case acc.exact:
		base = g.Weights.ExactMatch
	case acc.partial:
		base = g.Weights.PartialMatch
	}

	relationBonus := float64(len(acc.relations)) * g.Weights.RelationWeight
	if relationBonus > g.Weights.RelationCap {
		relationBonus = g.Weights.RelationCap
	}

	chunkBonus := float64(len(acc.chunks)) * g.Weights.ChunkWeight
	if chunkBonus > g.Weights.ChunkCap {
		chunkBonus = g.Weights.ChunkCap
	}

	score := base + relationBonus + chunkBonus
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// relationMatches 关系命中只看查询是否出现在主语、谓语或宾语中
func relationMatches(rel *Relation, queryLower string) bool {
	return strings.Contains(strings.ToLower(rel.Subject), queryLower) ||
		strings.Contains(strings.ToLower(rel.Predicate), queryLower) ||
		strings.Contains(strings.ToLower(rel.Object), queryLower)
}

func orDefault(entityType string) string {
	if entityType == "" {
		return defaultEntityType
	}
	return entityType
}

func (a *entityAccumulator) addRelated(name, entityType, predicate string) {
	if name == "" || a.relatedSeen[name] {
		return
	}
	if len(a.related) >= maxRelatedEntities {
		return
	}
	a.relatedSeen[name] = true
	a.related = append(a.related, RelatedEntity{
		Name:     name,
		Type:     orDefault(entityType),
		Relation: predicate,
	})
}

func (a *entityAccumulator) addRelation(rel Relation, chunkID uint) {
	if len(a.relations) >= maxMatchedRelations {
		return
	}
	a.relations = append(a.relations, MatchedRelation{
		Subject:    rel.Subject,
		Predicate:  rel.Predicate,
		Object:     rel.Object,
		Confidence: rel.Confidence,
		ChunkID:    chunkID,
	})
}

func (a *entityAccumulator) addChunk(chunk *AnnotatedChunk) {
	if a.chunkSeen[chunk.ChunkID] {
		return
	}
	a.chunkSeen[chunk.ChunkID] = true
	a.chunks = append(a.chunks, MatchedChunk{
		ChunkID:    chunk.ChunkID,
		DocumentID: chunk.DocumentID,
		ChunkIndex: chunk.ChunkIndex,
		Content:    chunk.Content,
	})
}
