package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
	"github.com/wengyuechuan/rag-backend/internal/logger"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// HandleError 将AppError映射为HTTP响应，其余错误按500处理
func (c *BaseController) HandleError(err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPCode, map[string]interface{}{
			"success": false,
			"code":    appErr.Code,
			"error":   appErr.Message,
		})
		return
	}

	logger.Error("请求处理失败",
		zap.String("path", c.Ctx.Request.RequestURI),
		zap.String("method", c.Ctx.Request.Method),
		zap.Error(err))
	c.JSONError(http.StatusInternalServerError, "内部服务错误")
}

// mustParseUintParam 解析URL参数为uint
func (c *BaseController) mustParseUintParam(key string) (uint, bool) {
	value := c.GetString(key)
	if value == "" {
		c.JSONError(http.StatusBadRequest, "缺少必要参数")
		return 0, false
	}

	id, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "参数格式错误")
		return 0, false
	}

	return uint(id), true
}

// pagination 解析分页参数
func (c *BaseController) pagination() (page, limit int) {
	page, _ = strconv.Atoi(c.GetString("page", "1"))
	limit, _ = strconv.Atoi(c.GetString("limit", "20"))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	return page, limit
}
