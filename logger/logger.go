package logger

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

const (
	LogTimeFmt = "2006-01-02 15:04:05.000"
)

type Config struct {
	LogLevel string `toml:"log-level" json:"log-level"`
	// LogFile is rotated by size; empty writes to stdout.
	LogFile    string `toml:"log-file" json:"log-file"`
	MaxSize    int    `toml:"max-size" json:"max-size"`
	MaxDays    int    `toml:"max-days" json:"max-days"`
	MaxBackups int    `toml:"max-backups" json:"max-backups"`
	// SlowThreshold in milliseconds for SQL traced through gorm.
	SlowThreshold uint64 `toml:"slow-threshold" json:"slow-threshold"`
}

// New builds the root logger.
func New(cfg *Config) *zap.Logger {
	if cfg == nil {
		cfg = &Config{}
	}
	core := zapcore.NewCore(getEncoder(), getWriteSyncer(cfg), getLevelEnabler(cfg.LogLevel))
	return zap.New(core, zap.AddCaller())
}

// NewGormLogger bridges gorm's SQL trace to l.
func NewGormLogger(l *zap.Logger, logLevel string, slowThreshold uint64) zapgorm2.Logger {
	gormLogger := zapgorm2.New(l)
	gormLogger.SlowThreshold = time.Duration(slowThreshold) * time.Millisecond

	level := strings.TrimSpace(logLevel)
	// reduce log
	switch {
	case strings.EqualFold(level, "debug"):
		gormLogger.LogLevel = gormlogger.Info
	case strings.EqualFold(level, "info"), strings.EqualFold(level, "warn"):
		gormLogger.LogLevel = gormlogger.Warn
	case strings.EqualFold(level, "silent"):
		gormLogger.LogLevel = gormlogger.Silent
	case strings.EqualFold(level, "error"):
		gormLogger.LogLevel = gormlogger.Error
	}
	// avoid First Method logger output "record not found" error
	gormLogger.IgnoreRecordNotFoundError = true
	return gormLogger
}

func getEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(
		zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller_line",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    cEncodeLevel,
			EncodeTime:     cEncodeTime,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   cEncodeCaller,
		})
}

func getWriteSyncer(cfg *Config) zapcore.WriteSyncer {
	if cfg.LogFile == "" {
		return zapcore.Lock(os.Stdout)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxDays,
		MaxBackups: cfg.MaxBackups,
	})
}

func getLevelEnabler(logLevel string) zapcore.Level {
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "FATAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func cEncodeLevel(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + level.CapitalString() + "]")
}

func cEncodeTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + t.Format(LogTimeFmt) + "]")
}

func cEncodeCaller(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + caller.TrimmedPath() + "]")
}
