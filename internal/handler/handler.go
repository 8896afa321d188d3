// Package handler 排行榜与 sidecar 的 HTTP 处理器
package handler

import (
	"context"

	"github.com/ashwinyue/ml-testbench/internal/service/leaderboard"
)

// LeaderboardService 排行榜查询
type LeaderboardService interface {
	Get(ctx context.Context) (leaderboard.Board, error)
}
