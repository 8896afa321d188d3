package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/service/leaderboard"
)

// LeaderboardHandler 排行榜处理器
type LeaderboardHandler struct {
	svc    LeaderboardService
	logger *zap.Logger
}

// NewLeaderboardHandler 创建排行榜处理器
func NewLeaderboardHandler(svc LeaderboardService, logger *zap.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{svc: svc, logger: logger}
}

// GetLeaderboard 返回 address -> 条目
// @Summary      获取排行榜
// @Tags         排行榜
// @Produce      json
// @Success      200  {object}  leaderboard.Board
// @Failure      406  {object}  ErrorResponse
// @Router       /leaderboard [get]
func (h *LeaderboardHandler) GetLeaderboard(c *gin.Context) {
	board, err := h.svc.Get(c.Request.Context())
	if err != nil {
		if !errors.Is(err, leaderboard.ErrEmpty) {
			h.logger.Error("failed to build leaderboard", zap.Error(err))
		}
		NotAcceptable(c, "Cannot retrieve leaderboard data.")
		return
	}
	JSON(c, board)
}
