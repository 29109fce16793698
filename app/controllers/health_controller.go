package controllers

import (
	"time"

	"github.com/wengyuechuan/rag-backend/internal/database"
)

// HealthController 健康检查控制器
type HealthController struct {
	BaseController
}

// Health 返回服务及依赖组件状态
func (c *HealthController) Health() {
	components := map[string]string{
		"database": "up",
		"redis":    "disabled",
	}

	if db, err := database.DB.DB(); err != nil || db.Ping() != nil {
		components["database"] = "down"
	}
	if database.RedisClient != nil {
		components["redis"] = "up"
		if err := database.RedisClient.Ping(c.Ctx.Request.Context()).Err(); err != nil {
			components["redis"] = "down"
		}
	}

	c.JSONSuccess(map[string]interface{}{
		"status":     "ok",
		"components": components,
		"time":       time.Now().Format(time.RFC3339),
	})
}
