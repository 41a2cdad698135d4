package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/gardenos/gardend/internal/logger"
)

func main() {
	log := logger.New()
	_ = zap.ReplaceGlobals(log)
	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
