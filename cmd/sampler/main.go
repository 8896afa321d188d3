package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/app"
)

func main() {
	a, err := app.New(app.RoleSampler)
	if err != nil {
		log.Fatalf("Failed to init sampler: %v", err)
	}
	defer a.Close()

	if err := a.RunWorker(context.Background()); err != nil {
		a.Logger.Fatal("sampler worker stopped", zap.Error(err))
	}
}
