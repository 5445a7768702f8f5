package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"guidebot/internal/infra/config"
)

// New builds the application logger from config. The returned closer flushes
// and closes a file sink; it is a no-op for stdout/stderr.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	sink, closer, err := openSink(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output %q: %w", cfg.Output, err)
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level: level,
		// Source locations only at debug verbosity.
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(sink, opts)
	} else {
		handler = slog.NewTextHandler(sink, opts)
	}

	return slog.New(handler), closer, nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func openSink(output string) (io.Writer, func() error, error) {
	nop := func() error { return nil }
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, nop, nil
	case "stderr", "":
		return os.Stderr, nop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
