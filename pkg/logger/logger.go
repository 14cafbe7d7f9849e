// Package logger builds the zap logger shared by every gojotxn component.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds all the configuration for the logger.
type Config struct {
	// Level sets the minimum log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`
	// Format is "console" for human-readable output or "json".
	Format string `yaml:"format"`
	// OutputFile is a path, or "stdout"/"stderr".
	OutputFile string `yaml:"output_file"`
}

// DefaultConfig logs info and above to stdout in console format.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", OutputFile: "stdout"}
}

// New creates a zap.Logger from config. Unknown levels fall back to info.
func New(config Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	ws, err := writeSyncer(config.OutputFile)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder(config.Format), ws, level)
	return zap.New(core, zap.AddCaller()).
		WithOptions(zap.Fields(zap.String("service", "gojotxn"))), nil
}

// ValidLevel reports whether level is a level name zap understands.
func ValidLevel(level string) bool {
	_, err := zapcore.ParseLevel(level)
	return err == nil
}

func encoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	if strings.ToLower(format) == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func writeSyncer(outputFile string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(outputFile) {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		file, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", outputFile, err)
		}
		return zapcore.AddSync(file), nil
	}
}
