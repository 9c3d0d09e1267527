package main

import (
	"github.com/septivank/meter-reading-service/internal/config"
	"github.com/septivank/meter-reading-service/internal/logging"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}

// fxLogger routes fx lifecycle events through zap
func fxLogger(logger *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
}
