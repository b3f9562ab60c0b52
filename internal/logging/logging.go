// Package logging builds the zerolog loggers used across the engine and the
// structured events for hedges, breaches and skipped positions.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"options-risk-engine/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	// Out overrides the console destination. Defaults to stderr.
	Out io.Writer `mapstructure:"-"`
}

// DefaultLogConfig logs info and above to the console only.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		FilePath:   filepath.Join(home, ".config", "options-risk-engine", "logs", "riskengine.log"),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
	}
}

// NewLogger returns a console logger with the default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig builds a logger writing to the console and/or a rotated
// file. With neither enabled, output is discarded.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(cfg.Out))
	}
	if cfg.File {
		if w, err := rotatingWriter(cfg); err == nil {
			writers = append(writers, w)
		}
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	return zerolog.New(out).With().Timestamp().Logger()
}

var levelTags = map[string]string{
	"debug": "\033[36mDBG\033[0m",
	"info":  "\033[32mINF\033[0m",
	"warn":  "\033[33mWRN\033[0m",
	"error": "\033[31mERR\033[0m",
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	if out == nil {
		out = os.Stderr
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			ll, _ := i.(string)
			if tag, ok := levelTags[ll]; ok {
				return tag
			}
			return strings.ToUpper(ll)
		},
	}
}

func rotatingWriter(cfg LogConfig) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}, nil
}

func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// SetDebugLevel lowers the global level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithComponent tags every event with the emitting component.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogHedge records a hedge execution.
func LogHedge(logger zerolog.Logger, h models.HedgeRecord) {
	logger.Info().
		Str("event", "hedge").
		Str("position_id", h.PositionID).
		Str("symbol", h.Symbol).
		Str("kind", string(h.Kind)).
		Float64("shares", h.Shares).
		Float64("price", h.Price).
		Float64("cost", h.Cost).
		Float64("delta_before", h.DeltaBefore).
		Float64("delta_after", h.DeltaAfter).
		Msg("Hedge executed")
}

// LogBreach records a risk limit breach.
func LogBreach(logger zerolog.Logger, b models.Breach) {
	logger.Warn().
		Str("event", "breach").
		Str("limit", b.LimitName).
		Str("metric", string(b.Metric)).
		Str("severity", string(b.Severity)).
		Float64("current", b.Current).
		Float64("threshold", b.Threshold).
		Msg("Risk limit breached")
}

// LogSkip records a position left out of a batch operation.
func LogSkip(logger zerolog.Logger, operation, positionID, symbol string, err error) {
	logger.Warn().
		Str("event", "skip").
		Str("operation", operation).
		Str("position_id", positionID).
		Str("symbol", symbol).
		Err(err).
		Msg("Position skipped")
}
