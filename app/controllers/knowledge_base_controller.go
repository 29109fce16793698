package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/wengyuechuan/rag-backend/internal/services"
)

// KnowledgeBaseController 知识库控制器
type KnowledgeBaseController struct {
	BaseController
	kbService *services.KnowledgeBaseService
}

// NewKnowledgeBaseController 创建知识库控制器
func NewKnowledgeBaseController(kbService *services.KnowledgeBaseService) *KnowledgeBaseController {
	return &KnowledgeBaseController{
		kbService: kbService,
	}
}

// List 获取知识库列表
func (c *KnowledgeBaseController) List() {
	page, limit := c.pagination()
	search := c.GetString("search")

	bases, total, err := c.kbService.List(c.Ctx.Request.Context(), page, limit, search)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"knowledge_bases": bases,
		"total":           total,
		"page":            page,
		"limit":           limit,
	})
}

// Get 获取知识库详情
func (c *KnowledgeBaseController) Get() {
	kbID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	kb, err := c.kbService.Get(c.Ctx.Request.Context(), kbID)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(kb)
}

// Create 创建知识库
func (c *KnowledgeBaseController) Create() {
	var req services.CreateKnowledgeBaseRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求参数错误")
		return
	}

	kb, err := c.kbService.Create(c.Ctx.Request.Context(), &req)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(kb)
}

// Update 更新知识库
func (c *KnowledgeBaseController) Update() {
	kbID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	var req services.UpdateKnowledgeBaseRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求参数错误")
		return
	}

	kb, err := c.kbService.Update(c.Ctx.Request.Context(), kbID, &req)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(kb)
}

// Delete 删除知识库
func (c *KnowledgeBaseController) Delete() {
	kbID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	if err := c.kbService.Delete(c.Ctx.Request.Context(), kbID); err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"message": "知识库已删除",
	})
}

// Stats 获取知识库统计信息
func (c *KnowledgeBaseController) Stats() {
	kbID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	stats, err := c.kbService.Stats(c.Ctx.Request.Context(), kbID)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(stats)
}
