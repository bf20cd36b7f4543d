// Package logging builds the zap loggers used across plughost.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the root logger.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `toml:"level" default:"info" validate:"omitempty,oneof=debug info warn warning error"`

	// Format is "console" or "json".
	Format string `toml:"format" default:"console" validate:"omitempty,oneof=console json"`

	// File, when set, receives a copy of every entry and is rotated by size.
	File string `toml:"file"`

	// MaxSize is the rotation threshold in megabytes.
	MaxSize int `toml:"max-size" default:"50"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `toml:"max-backups" default:"5"`

	// MaxAge is the number of days rotated files are kept.
	MaxAge int `toml:"max-age" default:"14"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress"`

	// Output is the terminal sink. Defaults to os.Stderr.
	Output io.Writer `toml:"-"`
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Output:     os.Stderr,
	}
}

// ParseLevel parses a level name. Unknown names map to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New creates the root logger described by cfg.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.AddSync(cfg.Output), level),
	}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		// Files always get JSON so they stay machine readable.
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
