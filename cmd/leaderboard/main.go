package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/app"
)

func main() {
	a, err := app.New(app.RoleLeaderboard)
	if err != nil {
		log.Fatalf("Failed to init leaderboard: %v", err)
	}
	defer a.Close()

	h, cleanup, err := a.LeaderboardHandler(context.Background())
	if err != nil {
		a.Logger.Fatal("failed to init leaderboard", zap.Error(err))
	}
	defer cleanup()

	if err := a.Serve(h); err != nil {
		a.Logger.Fatal("server error", zap.Error(err))
	}
}
