package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/bundlehub/internal/config"
)

// Options 描述日志级别与输出目标，通常由 OptionsFromConfig 生成。
type Options struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
	// Console 是未配置文件或文件不可用时的输出，默认 os.Stderr；stdout 留给命令输出。
	Console io.Writer
}

// OptionsFromConfig 提取配置中的日志相关字段。
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Level:      cfg.LogLevel,
		FilePath:   cfg.LogFilePath,
		MaxSizeMB:  cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
	}
}

// InitLogger 按配置构造 JSON 结构化日志器。
func InitLogger(cfg *config.Config) (*logrus.Logger, error) {
	return New(OptionsFromConfig(cfg))
}

// New 构造日志器。日志文件无法创建时退回 Console，并以 logger_fallback 事件记录原因。
func New(opts Options) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	out, openErr := openRotator(opts)
	switch {
	case openErr != nil:
		logger.SetOutput(console)
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   opts.FilePath,
		}).WithError(openErr).Warn("logger_fallback")
	case out != nil:
		logger.SetOutput(out)
	default:
		logger.SetOutput(console)
	}
	return logger, nil
}

// Discard 返回丢弃所有输出的日志器，供未注入日志器的组件使用。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// openRotator 在配置了 FilePath 时返回按大小轮转的文件输出；未配置时返回 nil。
func openRotator(opts Options) (io.Writer, error) {
	if opts.FilePath == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
		LocalTime:  true,
	}, nil
}
