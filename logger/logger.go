// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the engine's structured logging surface: a
// package-level slog.Logger with a five-level severity scheme
// (TRACE/DEBUG/INFO/WARNING/ERROR), switchable between JSON and text
// output, optionally backed by a rotating file via lumberjack and an
// async writer so a slow disk never blocks a filesystem call.
package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
)

// Severity levels below slog's built-in four. TRACE sits one step below
// DEBUG for call-by-call tracing that's too noisy even for -v.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

var levelNames = map[slog.Leveler]string{
	LevelTrace:   "TRACE",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

// Format selects the rendering of log records.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// RotateConfig configures the optional lumberjack-backed file sink.
type RotateConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config drives Init.
type Config struct {
	Severity string // TRACE, DEBUG, INFO, WARNING, ERROR, or OFF
	Format   Format
	FilePath string // empty writes to stderr
	Rotate   RotateConfig
	Async    bool // wrap the file sink in an AsyncLogger
	BufSize  int  // AsyncLogger channel depth, default 1000
}

var (
	programLevel  = new(slog.LevelVar)
	defaultLogger = slog.New(newHandler(os.Stderr, programLevel, FormatText))
)

func severityToLevel(s string) slog.Level {
	switch s {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "WARNING":
		return LevelWarning
	case "ERROR":
		return LevelError
	case "OFF":
		return slog.Level(1 << 30)
	default:
		return LevelInfo
	}
}

func newHandler(w io.Writer, level *slog.LevelVar, format Format) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl := a.Value.Any().(slog.Level)
				if name, ok := levelNames[lvl]; ok {
					a.Value = slog.StringValue(name)
				}
				a.Key = "severity"
			}
			return a
		},
	}
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Init reconfigures the package-level logger from cfg. It returns an
// io.Closer the caller must Close at shutdown to flush a file sink (a
// no-op closer when logging to stderr).
func Init(cfg Config) (io.Closer, error) {
	programLevel.Set(severityToLevel(cfg.Severity))

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.FilePath != "" {
		lj := &lumberjackLogger{
			Filename:   cfg.FilePath,
			MaxSizeMB:  cfg.Rotate.MaxSizeMB,
			MaxBackups: cfg.Rotate.MaxBackups,
			MaxAgeDays: cfg.Rotate.MaxAgeDays,
			Compress:   cfg.Rotate.Compress,
		}
		sink := lj.open()
		if cfg.Async {
			bufSize := cfg.BufSize
			if bufSize <= 0 {
				bufSize = 1000
			}
			async := NewAsyncLogger(sink, bufSize)
			w, closer = async, async
		} else {
			w, closer = sink, sink
		}
	}

	defaultLogger = slog.New(newHandler(w, programLevel, cfg.Format))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetLogLevel changes the active severity threshold without rebuilding
// handlers or output destinations.
func SetLogLevel(severity string) {
	programLevel.Set(severityToLevel(severity))
}

// SetOutput redirects the default logger to w, keeping the current level
// and format.
func SetOutput(w io.Writer, format Format) {
	defaultLogger = slog.New(newHandler(w, programLevel, format))
}

// Default returns the package-level logger, for components that want to
// attach request-scoped attributes via .With(...).
func Default() *slog.Logger { return defaultLogger }

func log5(ctx context.Context, level slog.Level, format string, args ...any) {
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	defaultLogger.Log(ctx, level, msg)
}

func Tracef(format string, args ...any) { log5(context.Background(), LevelTrace, format, args...) }
func Debugf(format string, args ...any) { log5(context.Background(), LevelDebug, format, args...) }
func Infof(format string, args ...any)  { log5(context.Background(), LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { log5(context.Background(), LevelWarning, format, args...) }
func Errorf(format string, args ...any) { log5(context.Background(), LevelError, format, args...) }

func Trace(msg string) { log5(context.Background(), LevelTrace, msg) }
func Debug(msg string) { log5(context.Background(), LevelDebug, msg) }
func Info(msg string)  { log5(context.Background(), LevelInfo, msg) }
func Warn(msg string)  { log5(context.Background(), LevelWarning, msg) }
func Error(msg string) { log5(context.Background(), LevelError, msg) }

// legacyWriter adapts the structured logger to io.Writer, for embedded
// components (the SQLite VFS shim's backing driver, bbolt) that want a
// standard *log.Logger rather than a context-aware slog call.
type legacyWriter struct {
	level slog.Level
}

func (l legacyWriter) Write(p []byte) (int, error) {
	log5(context.Background(), l.level, "%s", trimNewline(p))
	return len(p), nil
}

func trimNewline(p []byte) string {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return string(p)
}

// NewLegacyLogger returns a standard-library *log.Logger that forwards
// every line it receives into the structured logger at level.
func NewLegacyLogger(level slog.Level, prefix string) *log.Logger {
	return log.New(legacyWriter{level: level}, prefix, 0)
}
