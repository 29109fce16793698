package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
)

// Embedder 定义文本向量化接口
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
}

// EmbedderFactory 按模型名构造Embedder，加载索引时复用
type EmbedderFactory func(model string) Embedder

// OllamaEmbedder 调用本地Ollama嵌入接口
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client

	mu         sync.Mutex
	dimensions int // 首次成功调用后确定
}

// NewOllamaEmbedder 创建Ollama嵌入向量生成器
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewInvalidInputError("text", "must not be empty")
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.NewEmbeddingUnavailableError("embedding service unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewEmbeddingUnavailableError("failed to read embedding response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewEmbeddingUnavailableError(
			fmt.Sprintf("embedding service returned status %d", resp.StatusCode))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apperrors.NewEmbeddingUnavailableError("malformed embedding response").WithCause(err)
	}
	if parsed.Error != "" {
		return nil, apperrors.NewEmbeddingUnavailableError(parsed.Error)
	}
	if len(parsed.Embedding) == 0 {
		return nil, apperrors.NewEmbeddingUnavailableError("embedding response empty")
	}

	vector := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		vector[i] = float32(v)
	}
	return vector, e.checkDimensions(len(vector))
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

// checkDimensions 首次调用记录维度，后续调用校验一致性
func (e *OllamaEmbedder) checkDimensions(got int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dimensions == 0 {
		e.dimensions = got
		return nil
	}
	if e.dimensions != got {
		return apperrors.NewDimensionMismatchError(e.dimensions, got)
	}
	return nil
}

func (e *OllamaEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimensions
}

func (e *OllamaEmbedder) Model() string {
	return e.model
}

var openaiEmbeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder 使用OpenAI兼容的Embedding API
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器，baseURL为空时使用官方地址
func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}

	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	dims := openaiEmbeddingDimensions[model]
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dims,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, apperrors.NewEmbeddingUnavailableError("embedding request failed").WithCause(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.NewEmbeddingUnavailableError("embedding response incomplete")
	}

	vectors := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		vector := make([]float32, len(item.Embedding))
		copy(vector, item.Embedding)
		if e.dimensions == 0 {
			e.dimensions = len(vector)
		} else if len(vector) != e.dimensions {
			return nil, apperrors.NewDimensionMismatchError(e.dimensions, len(vector))
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Model() string {
	return e.model
}
