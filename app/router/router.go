package router

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/wengyuechuan/rag-backend/app/controllers"
	"github.com/wengyuechuan/rag-backend/app/middleware"
	"github.com/wengyuechuan/rag-backend/internal/services"
)

// Services 路由依赖的服务集合
type Services struct {
	KnowledgeBase *services.KnowledgeBaseService
	Document      *services.DocumentService
	Search        *services.SearchService
	Chat          *services.ChatService
}

// Init registers all routes. Must be called after config is loaded.
func Init(svc Services) {
	web.InsertFilter("/*", web.BeforeRouter, middleware.CORSMiddleware)

	web.Router("/health", &controllers.HealthController{}, "get:Health")

	// 知识库路由
	kbController := controllers.NewKnowledgeBaseController(svc.KnowledgeBase)
	web.Router("/api/knowledge-bases", kbController, "get:List;post:Create")
	web.Router("/api/knowledge-bases/:id", kbController, "get:Get;put:Update;delete:Delete")
	web.Router("/api/knowledge-bases/:id/stats", kbController, "get:Stats")

	// 文档路由
	docController := controllers.NewDocumentController(svc.Document)
	// 注意：具体路由必须在参数路由之前注册
	web.Router("/api/documents/formats", docController, "get:Formats")
	web.Router("/api/knowledge-bases/:id/documents", docController, "get:List;post:Create")
	web.Router("/api/knowledge-bases/:id/documents/upload", docController, "post:Upload")
	web.Router("/api/documents/:doc_id", docController, "get:Get;delete:Delete")
	web.Router("/api/documents/:doc_id/chunks", docController, "get:Chunks")
	web.Router("/api/documents/:doc_id/process", docController, "post:Process")
	web.Router("/api/documents/:doc_id/reprocess", docController, "post:Reprocess")
	web.Router("/api/documents/:doc_id/status", docController, "get:Status")

	// 检索路由
	searchController := controllers.NewSearchController(svc.Search)
	web.Router("/api/knowledge-bases/:id/search", searchController, "post:Search")
	web.Router("/api/knowledge-bases/:id/search/vector", searchController, "post:VectorSearch")
	web.Router("/api/knowledge-bases/:id/search/graph", searchController, "post:GraphSearch")

	// 问答路由
	chatController := controllers.NewChatController(svc.Chat)
	web.Router("/api/chat/sessions", chatController, "get:ListSessions;post:CreateSession")
	web.Router("/api/chat/sessions/:session_id", chatController, "get:GetSession;delete:DeleteSession")
	web.Router("/api/chat/sessions/:session_id/messages", chatController, "get:ListMessages")
	web.Router("/api/chat/sessions/:session_id/stream", chatController, "post:Stream")
}
