package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
	"github.com/wengyuechuan/rag-backend/internal/models"
)

// fakeChatRepo 内存聊天仓库
type fakeChatRepo struct {
	mu            sync.Mutex
	nextSessionID uint
	nextMessageID uint
	sessions      map[uint]*models.ChatSession
	messages      []models.ChatMessage
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{
		nextSessionID: 1,
		nextMessageID: 1,
		sessions:      make(map[uint]*models.ChatSession),
	}
}

func (f *fakeChatRepo) CreateSession(ctx context.Context, session *models.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session.SessionID = f.nextSessionID
	f.nextSessionID++
	stored := *session
	f.sessions[session.SessionID] = &stored
	return nil
}

func (f *fakeChatRepo) GetSession(ctx context.Context, id uint) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("chat session")
	}
	clone := *session
	return &clone, nil
}

func (f *fakeChatRepo) ListSessions(ctx context.Context, kbID uint, page, limit int) ([]models.ChatSession, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatSession
	for _, session := range f.sessions {
		if kbID != 0 && session.KnowledgeBaseID != kbID {
			continue
		}
		out = append(out, *session)
	}
	return out, int64(len(out)), nil
}

func (f *fakeChatRepo) UpdateSession(ctx context.Context, id uint, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return apperrors.NewNotFoundError("chat session")
	}
	if v, ok := updates["title"]; ok {
		session.Title = v.(string)
	}
	if v, ok := updates["message_count"]; ok {
		session.MessageCount = v.(int)
	}
	if v, ok := updates["total_tokens"]; ok {
		session.TotalTokens = v.(int)
	}
	return nil
}

func (f *fakeChatRepo) DeleteSession(ctx context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeChatRepo) CreateMessage(ctx context.Context, message *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	message.MessageID = f.nextMessageID
	f.nextMessageID++
	f.messages = append(f.messages, *message)
	return nil
}

func (f *fakeChatRepo) RecentMessages(ctx context.Context, sessionID uint, n int) ([]models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatMessage
	for _, msg := range f.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (f *fakeChatRepo) ListMessages(ctx context.Context, sessionID uint, page, limit int) ([]models.ChatMessage, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatMessage
	for _, msg := range f.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, int64(len(out)), nil
}

// newStreamServer 模拟OpenAI流式接口，把deltas按SSE分片下发
func newStreamServer(t *testing.T, deltas []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		w.Header().Set("Content-Type", "text/event-stream")

		for _, delta := range deltas {
			chunk := openai.ChatCompletionStreamResponse{
				Choices: []openai.ChatCompletionStreamChoice{
					{Delta: openai.ChatCompletionStreamChoiceDelta{Content: delta}},
				},
			}
			data, err := json.Marshal(chunk)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

type chatFixture struct {
	chatRepo *fakeChatRepo
	kbRepo   *fakeKBRepo
	svc      *ChatService
}

func newChatFixture(t *testing.T, baseURL string) *chatFixture {
	t.Helper()
	f := &chatFixture{
		chatRepo: newFakeChatRepo(),
		kbRepo:   newFakeKBRepo(),
	}

	processor := NewDocumentProcessingService(DocumentProcessingOptions{
		KnowledgeBases: f.kbRepo,
		Documents:      newFakeDocRepo(),
		Chunks:         newFakeChunkRepo(),
		Workers:        1,
	})
	t.Cleanup(processor.Shutdown)

	f.svc = NewChatService(f.chatRepo, f.kbRepo, NewSearchService(processor), ChatOptions{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Model:       "qwen-plus",
		HistorySize: 5,
	})
	return f
}

func (f *chatFixture) createKB(t *testing.T) uint {
	t.Helper()
	kb := models.KnowledgeBase{Name: "问答库"}
	require.NoError(t, f.kbRepo.Create(context.Background(), &kb))
	return kb.KnowledgeBaseID
}

func TestChatCreateSessionDefaults(t *testing.T) {
	f := newChatFixture(t, "")
	kbID := f.createKB(t)

	session, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{KnowledgeBaseID: kbID})
	require.NoError(t, err)

	assert.Equal(t, "新对话", session.Title)
	assert.True(t, session.UseVectorSearch)
	assert.False(t, session.UseGraphSearch)
	assert.Equal(t, 5, session.SearchTopK)
	assert.NotZero(t, session.SessionID)
}

func TestChatCreateSessionKnowledgeBaseMissing(t *testing.T) {
	f := newChatFixture(t, "")
	_, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{KnowledgeBaseID: 99})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResourceNotFound))
}

func TestChatStreamChat(t *testing.T) {
	srv := newStreamServer(t, []string{"你好", "，这是", "回答。"})
	f := newChatFixture(t, srv.URL+"/v1")
	kbID := f.createKB(t)

	off := false
	session, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{
		KnowledgeBaseID: kbID,
		UseVectorSearch: &off,
	})
	require.NoError(t, err)

	var events []ChatStreamEvent
	err = f.svc.StreamChat(context.Background(), session.SessionID, "什么是知识图谱？", func(event ChatStreamEvent) error {
		events = append(events, event)
		return nil
	})
	require.NoError(t, err)

	// 事件顺序：context、若干chunk、done
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "context", events[0].Type)
	assert.Equal(t, "done", events[len(events)-1].Type)
	assert.NotZero(t, events[len(events)-1].MessageID)

	var answer strings.Builder
	for _, event := range events {
		if event.Type == "chunk" {
			answer.WriteString(event.Content)
		}
	}
	assert.Equal(t, "你好，这是回答。", answer.String())

	// 用户与助手消息均已落库
	messages, total, err := f.svc.ListMessages(context.Background(), session.SessionID, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, models.MessageRoleUser, messages[0].Role)
	assert.Equal(t, "什么是知识图谱？", messages[0].Content)
	assert.Equal(t, models.MessageRoleAssistant, messages[1].Role)
	assert.Equal(t, "你好，这是回答。", messages[1].Content)

	// 首轮对话后标题改为问题，统计累加
	updated, err := f.svc.GetSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "什么是知识图谱？", updated.Title)
	assert.Equal(t, 2, updated.MessageCount)
	assert.Greater(t, updated.TotalTokens, 0)
}

func TestChatStreamChatEmptyMessage(t *testing.T) {
	f := newChatFixture(t, "")
	err := f.svc.StreamChat(context.Background(), 1, "   ", func(ChatStreamEvent) error { return nil })
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestChatStreamChatSessionMissing(t *testing.T) {
	f := newChatFixture(t, "")
	err := f.svc.StreamChat(context.Background(), 99, "问题", func(ChatStreamEvent) error { return nil })
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResourceNotFound))
}

func TestChatDeleteSession(t *testing.T) {
	f := newChatFixture(t, "")
	kbID := f.createKB(t)

	session, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{KnowledgeBaseID: kbID})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteSession(context.Background(), session.SessionID))
	_, err = f.svc.GetSession(context.Background(), session.SessionID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResourceNotFound))

	err = f.svc.DeleteSession(context.Background(), 99)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResourceNotFound))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("短"))
	assert.Equal(t, 2, estimateTokens("一二三四五六七八"))
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "短标题", truncateTitle("  短标题  "))

	long := strings.Repeat("长", 40)
	truncated := truncateTitle(long)
	assert.Equal(t, strings.Repeat("长", 30)+"…", truncated)
}
