package main

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/renderflow/config"
)

// apiLogName 详细模式下额外写入的 API 日志文件名
const apiLogName = "renderflow_api.log"

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	zapConfig := buildLoggerConfig(cfg)

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
		logger.Warn("invalid log configuration, using defaults", zap.Error(err))
	}

	return logger
}

func buildLoggerConfig(cfg config.LogConfig) zap.Config {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	outputs := append([]string(nil), cfg.OutputPaths...)
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	// 详细模式：强制 debug，并把 API 交互写入独立文件
	if cfg.Verbose {
		level = zapcore.DebugLevel
		if cfg.Dir != "" {
			if err := os.MkdirAll(cfg.Dir, 0o755); err == nil {
				outputs = append(outputs, filepath.Join(cfg.Dir, apiLogName))
			}
		}
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
}
