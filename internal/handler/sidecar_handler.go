package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/service/sidecar"
)

// HashResponse 哈希响应
type HashResponse struct {
	Hash string `json:"hash"`
}

// SidecarHandler 提供 tokenizer 与 config 内容及其哈希
type SidecarHandler struct {
	bundle *sidecar.Bundle
	logger *zap.Logger
}

// NewSidecarHandler 创建 sidecar 处理器
func NewSidecarHandler(bundle *sidecar.Bundle, logger *zap.Logger) *SidecarHandler {
	return &SidecarHandler{bundle: bundle, logger: logger}
}

// GetTokenizer 完整 tokenizer（含 config）
func (h *SidecarHandler) GetTokenizer(c *gin.Context) {
	h.logger.Debug("returning tokenizer data")
	JSON(c, h.bundle.Tokenizer.Objects)
}

// GetTokenizerHash tokenizer 哈希
func (h *SidecarHandler) GetTokenizerHash(c *gin.Context) {
	h.logger.Debug("returning tokenizer hash")
	JSON(c, HashResponse{Hash: h.bundle.Tokenizer.Hash})
}

// GetConfig 完整 config
func (h *SidecarHandler) GetConfig(c *gin.Context) {
	h.logger.Debug("returning config data")
	JSON(c, h.bundle.Config.Objects)
}

// GetConfigHash config 哈希
func (h *SidecarHandler) GetConfigHash(c *gin.Context) {
	h.logger.Debug("returning config hash")
	JSON(c, HashResponse{Hash: h.bundle.Config.Hash})
}
