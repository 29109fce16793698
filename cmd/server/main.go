package main

import (
	"log"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/wengyuechuan/rag-backend/app/bootstrap"
	"github.com/wengyuechuan/rag-backend/app/router"
	"github.com/wengyuechuan/rag-backend/internal/config"
	"github.com/wengyuechuan/rag-backend/internal/logger"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	router.Init(router.Services{
		KnowledgeBase: app.KnowledgeBaseService,
		Document:      app.DocumentService,
		Search:        app.SearchService,
		Chat:          app.ChatService,
	})

	web.BConfig.AppName = "RAG Backend"
	web.BConfig.CopyRequestBody = true
	if port, err := strconv.Atoi(config.AppConfig.Server.Port); err == nil {
		web.BConfig.Listen.HTTPPort = port
	}

	logger.Info("服务启动", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
