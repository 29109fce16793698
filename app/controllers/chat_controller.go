package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/wengyuechuan/rag-backend/internal/services"
)

// ChatRequest 对话请求体
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatController 知识库问答控制器
type ChatController struct {
	BaseController
	chatService *services.ChatService
}

// NewChatController 创建问答控制器
func NewChatController(chatService *services.ChatService) *ChatController {
	return &ChatController{
		chatService: chatService,
	}
}

// CreateSession 创建会话
func (c *ChatController) CreateSession() {
	var req services.CreateSessionRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求参数错误")
		return
	}

	session, err := c.chatService.CreateSession(c.Ctx.Request.Context(), &req)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(session)
}

// ListSessions 获取会话列表
func (c *ChatController) ListSessions() {
	var kbID uint
	if v := c.GetString("knowledge_base_id"); v != "" {
		id, err := c.GetUint32("knowledge_base_id")
		if err != nil {
			c.JSONError(http.StatusBadRequest, "参数格式错误")
			return
		}
		kbID = uint(id)
	}

	page, limit := c.pagination()
	sessions, total, err := c.chatService.ListSessions(c.Ctx.Request.Context(), kbID, page, limit)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"sessions": sessions,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

// GetSession 获取会话详情
func (c *ChatController) GetSession() {
	sessionID, ok := c.mustParseUintParam(":session_id")
	if !ok {
		return
	}

	session, err := c.chatService.GetSession(c.Ctx.Request.Context(), sessionID)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(session)
}

// DeleteSession 删除会话
func (c *ChatController) DeleteSession() {
	sessionID, ok := c.mustParseUintParam(":session_id")
	if !ok {
		return
	}

	if err := c.chatService.DeleteSession(c.Ctx.Request.Context(), sessionID); err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"message": "会话已删除",
	})
}

// ListMessages 获取会话消息
func (c *ChatController) ListMessages() {
	sessionID, ok := c.mustParseUintParam(":session_id")
	if !ok {
		return
	}

	page, limit := c.pagination()
	messages, total, err := c.chatService.ListMessages(c.Ctx.Request.Context(), sessionID, page, limit)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"messages": messages,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

// Stream 发送消息并以SSE流式返回回答
func (c *ChatController) Stream() {
	sessionID, ok := c.mustParseUintParam(":session_id")
	if !ok {
		return
	}

	var req ChatRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求参数错误")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSONError(http.StatusBadRequest, "消息内容不能为空")
		return
	}

	w := c.Ctx.ResponseWriter
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if !ok {
		c.JSONError(http.StatusInternalServerError, "流式响应不可用")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(event services.ChatStreamEvent) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := c.chatService.StreamChat(c.Ctx.Request.Context(), sessionID, req.Message, emit); err != nil {
		// 响应头已发出，只能以SSE事件报告错误
		payload, _ := json.Marshal(services.ChatStreamEvent{Type: "error", Error: "对话处理失败"})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}
