package bootstrap

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wengyuechuan/rag-backend/internal/config"
	"github.com/wengyuechuan/rag-backend/internal/database"
	"github.com/wengyuechuan/rag-backend/internal/knowledge"
	"github.com/wengyuechuan/rag-backend/internal/logger"
	"github.com/wengyuechuan/rag-backend/internal/repository"
	"github.com/wengyuechuan/rag-backend/internal/services"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	KnowledgeBaseService *services.KnowledgeBaseService
	DocumentService      *services.DocumentService
	SearchService        *services.SearchService
	ChatService          *services.ChatService
	Processor            *services.DocumentProcessingService

	cleanupTasks []func() error
}

// Init bootstraps configuration, logger, database connections and the service
// graph required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	if err := config.LoadConfig(); err != nil {
		return nil, err
	}
	cfg := config.AppConfig

	app := &App{}

	if _, err := database.InitDB(); err != nil {
		return nil, err
	}
	app.cleanupTasks = append(app.cleanupTasks, database.CloseDB)

	redisClient, err := database.InitRedis()
	if err != nil {
		logger.Warn("Redis初始化失败，状态缓存降级为数据库查询", zap.Error(err))
	} else if redisClient != nil {
		app.cleanupTasks = append(app.cleanupTasks, redisClient.Close)
	}

	// 仓储层
	kbRepo := repository.NewKnowledgeBaseRepository(database.DB)
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	chatRepo := repository.NewChatRepository(database.DB)

	// 文档处理编排器
	processor := services.NewDocumentProcessingService(services.DocumentProcessingOptions{
		KnowledgeBases: kbRepo,
		Documents:      docRepo,
		Chunks:         chunkRepo,
		ChunkStore:     repository.NewAnnotatedChunkStore(chunkRepo),
		StatusCache:    redisClient,
		StatusTTL:      time.Duration(cfg.Redis.TTL) * time.Second,

		EmbedderFactory: embedderFactory(cfg),
		ExtractorFactory: func() knowledge.Extractor {
			return knowledge.NewLLMExtractor(
				cfg.Knowledge.Extraction.APIKey,
				cfg.Knowledge.Extraction.BaseURL,
				cfg.Knowledge.Extraction.Model,
				cfg.Knowledge.Extraction.Temperature)
		},
		GraphFactory:   graphFactory(cfg),
		GraphBatchSize: cfg.Graph.BatchSize,

		IndexPath: cfg.Knowledge.IndexPath,
		Workers:   cfg.Knowledge.MaxParallel,
	})
	app.Processor = processor
	app.cleanupTasks = append(app.cleanupTasks, func() error {
		processor.Shutdown()
		return nil
	})

	// 业务服务
	app.KnowledgeBaseService = services.NewKnowledgeBaseService(kbRepo, docRepo)
	app.DocumentService = services.NewDocumentService(kbRepo, docRepo, chunkRepo, processor)
	app.SearchService = services.NewSearchService(processor)
	app.ChatService = services.NewChatService(chatRepo, kbRepo, app.SearchService, services.ChatOptions{
		APIKey:      cfg.Chat.APIKey,
		BaseURL:     cfg.Chat.BaseURL,
		Model:       cfg.Chat.Model,
		MaxTokens:   cfg.Chat.MaxTokens,
		Temperature: cfg.Chat.Temperature,
		HistorySize: cfg.Chat.HistorySize,
	})

	return app, nil
}

// Shutdown runs cleanup tasks in reverse registration order.
func (a *App) Shutdown() {
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			logger.Error("资源释放失败", zap.Error(err))
		}
	}
	logger.Sync()
}

// embedderFactory 按配置选择向量化后端
func embedderFactory(cfg *config.Config) knowledge.EmbedderFactory {
	embedding := cfg.Knowledge.Embedding
	if embedding.Provider == "openai" {
		return func(model string) knowledge.Embedder {
			if model == "" {
				model = embedding.Model
			}
			return knowledge.NewOpenAIEmbedder(embedding.APIKey, embedding.BaseURL, model)
		}
	}
	return func(model string) knowledge.Embedder {
		if model == "" {
			model = embedding.Model
		}
		return knowledge.NewOllamaEmbedder(embedding.BaseURL, model)
	}
}

// graphFactory 图谱存储工厂，未启用时返回nil
func graphFactory(cfg *config.Config) func() (services.TripleStore, error) {
	if !cfg.Graph.Enabled {
		return nil
	}
	return func() (services.TripleStore, error) {
		return knowledge.NewGraphStore(cfg.Graph.Address, cfg.Graph.GraphName)
	}
}
