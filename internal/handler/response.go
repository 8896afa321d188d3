package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}

// JSON 直接返回数据 (200)
func JSON(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// NotAcceptable 406 错误响应
func NotAcceptable(c *gin.Context, msg string) {
	c.JSON(http.StatusNotAcceptable, ErrorResponse{Code: http.StatusNotAcceptable, Detail: msg})
}
