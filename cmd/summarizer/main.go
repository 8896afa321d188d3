package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/app"
)

func main() {
	a, err := app.New(app.RoleSummarizer)
	if err != nil {
		log.Fatalf("Failed to init summarizer: %v", err)
	}
	defer a.Close()

	if err := a.RunWorker(context.Background()); err != nil {
		a.Logger.Fatal("summarizer worker stopped", zap.Error(err))
	}
}
