package logger

import (
	"integration-console/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init 根据配置构建全局 zap logger
func Init(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Server.Mode == "release" || cfg.Log.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Log.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, cfg.Log.File)
	}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(l)
	return l, nil
}
