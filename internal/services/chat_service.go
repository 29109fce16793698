package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
	"github.com/wengyuechuan/rag-backend/internal/knowledge"
	"github.com/wengyuechuan/rag-backend/internal/logger"
	"github.com/wengyuechuan/rag-backend/internal/models"
	"github.com/wengyuechuan/rag-backend/internal/repository"
)

// ChatStreamEvent SSE流事件
type ChatStreamEvent struct {
	Type      string                  `json:"type"` // context | chunk | done | error
	Content   string                  `json:"content,omitempty"`
	Chunks    []VectorSearchHit       `json:"chunks,omitempty"`
	Entities  []knowledge.EntityMatch `json:"entities,omitempty"`
	MessageID uint                    `json:"message_id,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	KnowledgeBaseID uint   `json:"knowledge_base_id" valid:"Required"`
	Title           string `json:"title"`
	UseVectorSearch *bool  `json:"use_vector_search"`
	UseGraphSearch  *bool  `json:"use_graph_search"`
	SearchTopK      int    `json:"search_top_k"`
}

// ChatOptions 聊天模型配置
type ChatOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	HistorySize int
}

// ChatService 知识库问答：检索增强上下文 + 流式生成
type ChatService struct {
	chats  repository.ChatRepository
	kbs    repository.KnowledgeBaseRepository
	search *SearchService

	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	historySize int
}

// NewChatService 创建聊天服务
func NewChatService(chats repository.ChatRepository, kbs repository.KnowledgeBaseRepository, search *SearchService, opts ChatOptions) *ChatService {
	if opts.Model == "" {
		opts.Model = "qwen-plus"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 5
	}

	cfg := openai.DefaultConfig(strings.TrimSpace(opts.APIKey))
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &ChatService{
		chats:       chats,
		kbs:         kbs,
		search:      search,
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: float32(opts.Temperature),
		historySize: opts.HistorySize,
	}
}

// CreateSession 创建会话
func (s *ChatService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*models.ChatSession, error) {
	if _, err := s.kbs.GetByID(ctx, req.KnowledgeBaseID); err != nil {
		return nil, err
	}

	session := &models.ChatSession{
		KnowledgeBaseID: req.KnowledgeBaseID,
		Title:           req.Title,
		UseVectorSearch: true,
		SearchTopK:      5,
	}
	if session.Title == "" {
		session.Title = "新对话"
	}
	if req.UseVectorSearch != nil {
		session.UseVectorSearch = *req.UseVectorSearch
	}
	if req.UseGraphSearch != nil {
		session.UseGraphSearch = *req.UseGraphSearch
	}
	if req.SearchTopK > 0 {
		session.SearchTopK = req.SearchTopK
	}

	if err := s.chats.CreateSession(ctx, session); err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "failed to create chat session").WithCause(err)
	}
	return session, nil
}

// GetSession 获取会话
func (s *ChatService) GetSession(ctx context.Context, id uint) (*models.ChatSession, error) {
	return s.chats.GetSession(ctx, id)
}

// ListSessions 分页获取会话列表
func (s *ChatService) ListSessions(ctx context.Context, kbID uint, page, limit int) ([]models.ChatSession, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.chats.ListSessions(ctx, kbID, page, limit)
}

// DeleteSession 删除会话
func (s *ChatService) DeleteSession(ctx context.Context, id uint) error {
	if _, err := s.chats.GetSession(ctx, id); err != nil {
		return err
	}
	return s.chats.DeleteSession(ctx, id)
}

// ListMessages 分页获取会话消息
func (s *ChatService) ListMessages(ctx context.Context, sessionID uint, page, limit int) ([]models.ChatMessage, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if _, err := s.chats.GetSession(ctx, sessionID); err != nil {
		return nil, 0, err
	}
	return s.chats.ListMessages(ctx, sessionID, page, limit)
}

// StreamChat 处理一轮对话：检索上下文、流式生成、落库。
// emit回调按顺序收到context、若干chunk、最后done事件
func (s *ChatService) StreamChat(ctx context.Context, sessionID uint, userMessage string, emit func(ChatStreamEvent) error) error {
	if strings.TrimSpace(userMessage) == "" {
		return apperrors.NewInvalidInputError("message", "must not be empty")
	}

	session, err := s.chats.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	start := time.Now()

	// 1. 检索增强上下文，检索失败不阻断对话
	var hits []VectorSearchHit
	var entities []knowledge.EntityMatch
	if session.UseVectorSearch || session.UseGraphSearch {
		response, err := s.search.Search(ctx, session.KnowledgeBaseID, userMessage, session.SearchTopK,
			session.UseVectorSearch, session.UseGraphSearch)
		if err != nil {
			logger.Warn("对话检索失败", zap.Uint("session_id", sessionID), zap.Error(err))
		} else {
			hits = response.VectorResults
			entities = response.GraphResults
		}
	}

	if err := emit(ChatStreamEvent{Type: "context", Chunks: hits, Entities: entities}); err != nil {
		return err
	}

	// 2. 保存用户消息
	chunksJSON, _ := json.Marshal(hits)
	entitiesJSON, _ := json.Marshal(entities)
	userMsg := &models.ChatMessage{
		SessionID:         sessionID,
		Role:              models.MessageRoleUser,
		Content:           userMessage,
		RetrievedChunks:   string(chunksJSON),
		RetrievedEntities: string(entitiesJSON),
		ContextUsed:       len(hits) > 0 || len(entities) > 0,
		TokenCount:        estimateTokens(userMessage),
	}
	if err := s.chats.CreateMessage(ctx, userMsg); err != nil {
		return apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "failed to save message").WithCause(err)
	}

	// 3. 组装消息并流式生成
	messages, err := s.assembleMessages(ctx, session, userMessage, hits, entities)
	if err != nil {
		return err
	}

	answer, err := s.streamCompletion(ctx, messages, emit)
	if err != nil {
		return err
	}

	// 4. 保存助手消息并更新会话统计
	assistantMsg := &models.ChatMessage{
		SessionID:      sessionID,
		Role:           models.MessageRoleAssistant,
		Content:        answer,
		ContextUsed:    len(hits) > 0 || len(entities) > 0,
		TokenCount:     estimateTokens(answer),
		ProcessingTime: time.Since(start).Seconds(),
	}
	if err := s.chats.CreateMessage(ctx, assistantMsg); err != nil {
		logger.Error("助手消息保存失败", zap.Uint("session_id", sessionID), zap.Error(err))
	}

	updates := map[string]interface{}{
		"message_count": session.MessageCount + 2,
		"total_tokens":  session.TotalTokens + userMsg.TokenCount + assistantMsg.TokenCount,
	}
	if session.MessageCount == 0 && session.Title == "新对话" {
		updates["title"] = truncateTitle(userMessage)
	}
	if err := s.chats.UpdateSession(ctx, sessionID, updates); err != nil {
		logger.Warn("会话统计更新失败", zap.Uint("session_id", sessionID), zap.Error(err))
	}

	return emit(ChatStreamEvent{Type: "done", MessageID: assistantMsg.MessageID})
}

// assembleMessages 系统提示 + 检索上下文 + 历史窗口 + 当前问题
func (s *ChatService) assembleMessages(ctx context.Context, session *models.ChatSession, userMessage string, hits []VectorSearchHit, entities []knowledge.EntityMatch) ([]openai.ChatCompletionMessage, error) {
	var system strings.Builder
	system.WriteString("你是一个知识库问答助手。优先依据提供的参考内容回答，参考内容不足时如实说明。\n")

	if len(hits) > 0 {
		system.WriteString("\n参考内容：\n")
		for i, hit := range hits {
			system.WriteString(fmt.Sprintf("文档片段 %d：\n%s\n\n", i+1, hit.Content))
		}
	}
	if len(entities) > 0 {
		system.WriteString("\n相关实体：\n")
		for _, entity := range entities {
			system.WriteString(fmt.Sprintf("- %s（%s）", entity.EntityName, entity.EntityType))
			for _, rel := range entity.Relations {
				system.WriteString(fmt.Sprintf(" %s-%s-%s;", rel.Subject, rel.Predicate, rel.Object))
			}
			system.WriteString("\n")
		}
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system.String()},
	}

	history, err := s.chats.RecentMessages(ctx, session.SessionID, s.historySize)
	if err != nil {
		return nil, err
	}
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Role == models.MessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: userMessage,
	})
	return messages, nil
}

// streamCompletion 流式调用LLM，逐段通过emit下发并返回完整回答
func (s *ChatService) streamCompletion(ctx context.Context, messages []openai.ChatCompletionMessage, emit func(ChatStreamEvent) error) (string, error) {
	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Stream:      true,
	})
	if err != nil {
		return "", apperrors.NewBusinessError(apperrors.ErrCodeExternalService, "chat completion failed").WithCause(err)
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", apperrors.NewBusinessError(apperrors.ErrCodeExternalService, "chat stream interrupted").WithCause(err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		answer.WriteString(delta)
		if err := emit(ChatStreamEvent{Type: "chunk", Content: delta}); err != nil {
			return "", err
		}
	}
	return answer.String(), nil
}

// estimateTokens 粗略估算token数
func estimateTokens(text string) int {
	n := len([]rune(text)) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

func truncateTitle(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > 30 {
		return string(runes[:30]) + "…"
	}
	return string(runes)
}
