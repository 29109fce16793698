package controllers

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/wengyuechuan/rag-backend/internal/config"
	"github.com/wengyuechuan/rag-backend/internal/services"
)

// DocumentController 文档控制器
type DocumentController struct {
	BaseController
	docService *services.DocumentService
}

// NewDocumentController 创建文档控制器
func NewDocumentController(docService *services.DocumentService) *DocumentController {
	return &DocumentController{
		docService: docService,
	}
}

// List 获取文档列表
func (c *DocumentController) List() {
	kbID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	page, limit := c.pagination()
	status := c.GetString("status")

	documents, total, err := c.docService.List(c.Ctx.Request.Context(), kbID, page, limit, status)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"documents": documents,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// Get 获取文档详情
func (c *DocumentController) Get() {
	docID, ok := c.mustParseUintParam(":doc_id")
	if !ok {
		return
	}

	document, err := c.docService.Get(c.Ctx.Request.Context(), docID)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(document)
}

// Create 以纯文本创建文档
func (c *DocumentController) Create() {
	kbID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	var req services.CreateDocumentRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求参数错误")
		return
	}
	req.KnowledgeBaseID = kbID

	document, err := c.docService.Create(c.Ctx.Request.Context(), &req)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(document)
}

// Upload 上传文档文件
func (c *DocumentController) Upload() {
	kbID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	file, header, err := c.GetFile("file")
	if err != nil {
		c.JSONError(http.StatusBadRequest, "缺少上传文件")
		return
	}
	defer file.Close()

	if max := config.AppConfig.FileUpload.MaxSize; max > 0 && header.Size > max {
		c.JSONError(http.StatusRequestEntityTooLarge, "文件超过大小限制")
		return
	}

	if !c.extensionAllowed(header.Filename) {
		c.JSONError(http.StatusBadRequest, "不支持的文件类型")
		return
	}

	autoProcess, _ := c.GetBool("auto_process", true)

	document, err := c.docService.CreateFromFile(c.Ctx.Request.Context(), kbID, header.Filename, file, autoProcess)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(document)
}

// Chunks 获取文档的分块列表
func (c *DocumentController) Chunks() {
	docID, ok := c.mustParseUintParam(":doc_id")
	if !ok {
		return
	}

	chunks, err := c.docService.Chunks(c.Ctx.Request.Context(), docID)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"chunks": chunks,
		"total":  len(chunks),
	})
}

// Process 触发文档处理
func (c *DocumentController) Process() {
	docID, ok := c.mustParseUintParam(":doc_id")
	if !ok {
		return
	}

	if err := c.docService.Process(c.Ctx.Request.Context(), docID); err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"message": "文档处理已启动",
	})
}

// Reprocess 重新处理文档
func (c *DocumentController) Reprocess() {
	docID, ok := c.mustParseUintParam(":doc_id")
	if !ok {
		return
	}

	if err := c.docService.Reprocess(c.Ctx.Request.Context(), docID); err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"message": "文档已重新排队处理",
	})
}

// Status 查询文档处理状态
func (c *DocumentController) Status() {
	docID, ok := c.mustParseUintParam(":doc_id")
	if !ok {
		return
	}

	status, errorMessage, err := c.docService.Status(c.Ctx.Request.Context(), docID)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"document_id":   docID,
		"status":        status,
		"error_message": errorMessage,
	})
}

// Delete 删除文档
func (c *DocumentController) Delete() {
	docID, ok := c.mustParseUintParam(":doc_id")
	if !ok {
		return
	}

	if err := c.docService.Delete(c.Ctx.Request.Context(), docID); err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"message": "文档已删除",
	})
}

// Formats 列出支持的上传格式
func (c *DocumentController) Formats() {
	c.JSONSuccess(map[string]interface{}{
		"formats": c.docService.SupportedFormats(),
	})
}

// extensionAllowed 检查文件扩展名是否在允许列表内
func (c *DocumentController) extensionAllowed(filename string) bool {
	allowed := config.AppConfig.FileUpload.AllowedTypes
	if len(allowed) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, t := range allowed {
		if strings.TrimPrefix(strings.ToLower(t), ".") == ext {
			return true
		}
	}
	return false
}
