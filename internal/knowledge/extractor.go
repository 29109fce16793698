package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
)

// Entity 抽取出的实体
type Entity struct {
	Name        string   `json:"name"`
	EntityType  string   `json:"entity_type"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description,omitempty"`
	Confidence  float64  `json:"confidence"`
	ChunkIDs    []string `json:"chunk_ids,omitempty"`
}

// ExtractionResult 单个分块的抽取结果
type ExtractionResult struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Extractor 实体关系抽取接口
type Extractor interface {
	ProcessText(ctx context.Context, text, chunkID string) (*ExtractionResult, error)
}

// LLMExtractor 基于OpenAI兼容接口的两段式抽取：先抽实体，再围绕实体抽关系
type LLMExtractor struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewLLMExtractor 创建LLM抽取器
func NewLLMExtractor(apiKey, baseURL, model string, temperature float64) *LLMExtractor {
	if model == "" {
		model = "qwen-plus"
	}

	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &LLMExtractor{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: float32(temperature),
	}
}

const entityPrompt = `你是一个知识抽取助手。从给定文本中抽取所有重要实体。
实体类型限定为：Person、Organization、Location、Product、Event、Date、Work、Concept、Resource、Category、Operation。
只输出JSON数组，格式：
[{"name": "实体名", "entity_type": "类型", "aliases": [], "description": "一句话描述", "confidence": 0.9}]
文本：
%s`

const relationPrompt = `你是一个知识抽取助手。基于给定文本和已识别的实体，抽取实体之间的关系三元组。
只输出JSON数组，格式：
[{"subject": "主语", "subject_type": "类型", "predicate": "关系", "object": "宾语", "object_type": "类型", "confidence": 0.9}]
已识别实体：%s
文本：
%s`

// ProcessText 抽取单个分块的实体与关系，chunkID会写入结果的溯源字段
func (e *LLMExtractor) ProcessText(ctx context.Context, text, chunkID string) (*ExtractionResult, error) {
	entities, err := e.extractEntities(ctx, text)
	if err != nil {
		return nil, err
	}

	result := &ExtractionResult{Entities: entities}
	if len(entities) == 0 {
		return result, nil
	}

	relations, err := e.extractRelations(ctx, text, entities)
	if err != nil {
		return nil, err
	}

	for i := range result.Entities {
		result.Entities[i].ChunkIDs = []string{chunkID}
	}
	for i := range relations {
		relations[i].ChunkIDs = []string{chunkID}
		relations[i].Contexts = []string{truncateRunes(text, 200)}
	}
	result.Relations = relations
	return result, nil
}

func (e *LLMExtractor) extractEntities(ctx context.Context, text string) ([]Entity, error) {
	content, err := e.complete(ctx, fmt.Sprintf(entityPrompt, text))
	if err != nil {
		return nil, err
	}

	var entities []Entity
	if err := json.Unmarshal([]byte(stripJSONFence(content)), &entities); err != nil {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeExtractionFailed, "failed to parse entity response").WithCause(err)
	}

	// 类型归一化，非法类型回退到Concept
	normalized := entities[:0]
	for _, entity := range entities {
		if strings.TrimSpace(entity.Name) == "" {
			continue
		}
		entity.EntityType = NormalizeEntityType(entity.EntityType)
		normalized = append(normalized, entity)
	}
	return normalized, nil
}

func (e *LLMExtractor) extractRelations(ctx context.Context, text string, entities []Entity) ([]Relation, error) {
	names := make([]string, len(entities))
	for i, entity := range entities {
		names[i] = entity.Name
	}

	content, err := e.complete(ctx, fmt.Sprintf(relationPrompt, strings.Join(names, "、"), text))
	if err != nil {
		return nil, err
	}

	var relations []Relation
	if err := json.Unmarshal([]byte(stripJSONFence(content)), &relations); err != nil {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeExtractionFailed, "failed to parse relation response").WithCause(err)
	}

	valid := relations[:0]
	for _, rel := range relations {
		if rel.Subject == "" || rel.Predicate == "" || rel.Object == "" {
			continue
		}
		rel.SubjectType = NormalizeEntityType(rel.SubjectType)
		rel.ObjectType = NormalizeEntityType(rel.ObjectType)
		valid = append(valid, rel)
	}
	return valid, nil
}

func (e *LLMExtractor) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: e.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", apperrors.NewBusinessError(apperrors.ErrCodeExternalService, "extraction request failed").WithCause(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.NewBusinessError(apperrors.ErrCodeExtractionFailed, "extraction response empty")
	}
	return resp.Choices[0].Message.Content, nil
}

// stripJSONFence 去掉模型输出中的markdown代码围栏
func stripJSONFence(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
