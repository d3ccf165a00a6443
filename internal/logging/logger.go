// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/skairunner/commentater/internal/commentater"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger (development=%t): %w", development, err)
	}
	return logger, nil
}

// TaskFields returns the fields every log line about a task carries.
func TaskFields(task commentater.Task) []zap.Field {
	return []zap.Field{
		zap.Int64("task_id", task.ID),
		zap.Int64("user_id", task.UserID),
		zap.Int64("article_id", task.ArticleID),
	}
}

// ForTask scopes a logger to one task.
func ForTask(logger *zap.Logger, task commentater.Task) *zap.Logger {
	return logger.With(TaskFields(task)...)
}
