package main

import (
	"log"

	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/app"
)

func main() {
	a, err := app.New(app.RoleSidecar)
	if err != nil {
		log.Fatalf("Failed to init sidecar: %v", err)
	}
	defer a.Close()

	h, err := a.SidecarHandler()
	if err != nil {
		a.Logger.Fatal("failed to load sidecar files", zap.Error(err))
	}

	if err := a.Serve(h); err != nil {
		a.Logger.Fatal("server error", zap.Error(err))
	}
}
