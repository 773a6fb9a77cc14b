// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package logconfig builds the process wide slog.Handler from config.
package logconfig

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/z5labs/loam/pkg/maskslog"
	"github.com/z5labs/loam/pkg/otelslog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Format selects the encoding of log records.
type Format string

const (
	Text Format = "text"
	JSON Format = "json"
	Zap  Format = "zap"
)

// DefaultMaskedKeys are masked by every handler built by [Config.Handler]
// in addition to [Config.Mask].
var DefaultMaskedKeys = []string{
	"authorization",
	"proxy-authorization",
	"cookie",
	"set-cookie",
}

// Config is the config file representation of the logger.
type Config struct {
	Level     slog.Level `config:"level"`
	Format    Format     `config:"format"`
	Mask      []string   `config:"mask"`
	AddSource bool       `config:"addSource"`
}

// UnknownFormatError is returned for an unsupported [Format].
type UnknownFormatError struct {
	Format Format
}

// Error implements the [builtin.error] interface.
func (e UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown log format: %s", e.Format)
}

// Handler builds a slog.Handler writing to w, or to [os.Stderr] if w is nil.
// Records are correlated with the active span, warnings and errors are
// recorded as span events and sensitive keys are masked.
func (cfg Config) Handler(w io.Writer) (slog.Handler, error) {
	if w == nil {
		w = os.Stderr
	}

	var h slog.Handler
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}
	switch Format(strings.ToLower(string(cfg.Format))) {
	case "", Text:
		h = slog.NewTextHandler(w, opts)
	case JSON:
		h = slog.NewJSONHandler(w, opts)
	case Zap:
		h = zapslog.NewHandler(zapCore(w, cfg.Level), &zapslog.HandlerOptions{
			AddSource: cfg.AddSource,
		})
	default:
		return nil, UnknownFormatError{Format: cfg.Format}
	}

	keys := append(append([]string{}, DefaultMaskedKeys...), cfg.Mask...)
	return otelslog.NewHandler(
		maskslog.NewHandler(h, maskslog.Keys(keys...)),
		otelslog.SpanEvents(slog.LevelWarn),
	), nil
}

func zapCore(w io.Writer, lvl slog.Level) zapcore.Core {
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(zapLevel(lvl)),
	)
}

func zapLevel(lvl slog.Level) zapcore.Level {
	switch {
	case lvl < slog.LevelInfo:
		return zapcore.DebugLevel
	case lvl < slog.LevelWarn:
		return zapcore.InfoLevel
	case lvl < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
