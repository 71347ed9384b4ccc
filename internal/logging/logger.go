package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pressgate/pressgate/internal/config"
)

// Rotator 描述可被定期轮转的日志输出，清理任务据此裁剪旧日志。
type Rotator interface {
	Rotate() error
}

type noopRotator struct{}

func (noopRotator) Rotate() error { return nil }

// InitLogger 根据全局配置初始化 JSON 结构化日志，确保文件/控制台输出一致。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, _, outErr := buildOutput(cfg.LogFilePath, cfg)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := newJSONLogger(level, output)

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

// InitPurgeLogger 创建记录缓存清理事件的独立日志。未配置 PurgeLogPath 时复用主日志，
// 返回的 Rotator 为空操作。
func InitPurgeLogger(cfg config.GlobalConfig, fallback *logrus.Logger) (*logrus.Logger, Rotator) {
	if cfg.PurgeLogPath == "" {
		return fallback, noopRotator{}
	}
	output, rotator, err := buildOutput(cfg.PurgeLogPath, cfg)
	if err != nil {
		fallback.WithFields(logrus.Fields{
			"action": "purge_logger_fallback",
			"path":   cfg.PurgeLogPath,
		}).Warn(err.Error())
		return fallback, noopRotator{}
	}
	return newJSONLogger(logrus.InfoLevel, output), rotator
}

func newJSONLogger(level logrus.Level, output io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	return logger
}

// buildOutput 根据配置创建日志输出 Writer；失败时降级到 stdout 并返回错误。
func buildOutput(path string, cfg config.GlobalConfig) (io.Writer, Rotator, error) {
	if path == "" {
		return os.Stdout, noopRotator{}, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.Stdout, noopRotator{}, fmt.Errorf("创建日志目录失败: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}
	return rotator, rotator, nil
}
