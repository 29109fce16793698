package controllers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wengyuechuan/rag-backend/internal/services"
)

// SearchRequest 知识库检索请求
type SearchRequest struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
	UseVector *bool  `json:"use_vector"`
	UseGraph  *bool  `json:"use_graph"`
}

// SearchController 检索控制器
type SearchController struct {
	BaseController
	searchService *services.SearchService
}

// NewSearchController 创建检索控制器
func NewSearchController(searchService *services.SearchService) *SearchController {
	return &SearchController{
		searchService: searchService,
	}
}

// parseSearchRequest 解析并校验检索请求体
func (c *SearchController) parseSearchRequest() (*SearchRequest, bool) {
	var req SearchRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求参数错误")
		return nil, false
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSONError(http.StatusBadRequest, "查询内容不能为空")
		return nil, false
	}
	return &req, true
}

// Search 组合检索：向量召回 + 图谱实体匹配
func (c *SearchController) Search() {
	kbID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	req, ok := c.parseSearchRequest()
	if !ok {
		return
	}

	useVector := true
	if req.UseVector != nil {
		useVector = *req.UseVector
	}
	useGraph := false
	if req.UseGraph != nil {
		useGraph = *req.UseGraph
	}

	response, err := c.searchService.Search(c.Ctx.Request.Context(), kbID, req.Query, req.TopK, useVector, useGraph)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(response)
}

// VectorSearch 纯向量检索
func (c *SearchController) VectorSearch() {
	kbID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	req, ok := c.parseSearchRequest()
	if !ok {
		return
	}

	hits, err := c.searchService.VectorSearch(c.Ctx.Request.Context(), kbID, req.Query, req.TopK)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"query":   req.Query,
		"results": hits,
		"total":   len(hits),
	})
}

// GraphSearch 图谱实体检索
func (c *SearchController) GraphSearch() {
	kbID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	req, ok := c.parseSearchRequest()
	if !ok {
		return
	}

	matches, err := c.searchService.GraphSearch(c.Ctx.Request.Context(), kbID, req.Query, req.TopK)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"query":   req.Query,
		"results": matches,
		"total":   len(matches),
	})
}
