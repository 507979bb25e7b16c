package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Logg is the process-wide logger. It is replaced at startup by NewLogger.
var Logg = slog.New(NewColorHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// NewLogger builds a logger writing JSON through zap ("json") or colored
// text to stdout ("text").
func NewLogger(level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	switch format {
	case "json", "":
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapLevel(lvl))
		cfg.Sampling = nil
		zl, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		return slog.New(zapslog.NewHandler(zl.Core(), zapslog.WithCaller(true))), nil
	case "text":
		return slog.New(NewColorHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	case l >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
