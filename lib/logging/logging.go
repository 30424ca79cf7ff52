// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds cabin's slog loggers.
//
// A logger writing to a terminal uses slog.TextHandler for people; any
// other destination (the log file, a pipe, a test buffer) gets
// slog.JSONHandler so that logs stay machine-parseable. Callers scope
// loggers with With:
//
//	logger := logging.New(os.Stderr, level).With("cabal", key.Short())
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// EnvLevel names the environment variable that sets the log level.
const EnvLevel = "CABIN_LOG_LEVEL"

// ParseLevel maps debug, info, warn (or warning) and error to slog
// levels, case-insensitively.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", name)
	}
}

// ResolveLevel picks the effective level: an explicit flag value wins,
// then CABIN_LOG_LEVEL, then the configured value.
func ResolveLevel(flagValue, configValue string) (slog.Level, error) {
	if flagValue != "" {
		return ParseLevel(flagValue)
	}
	if env := os.Getenv(EnvLevel); env != "" {
		return ParseLevel(env)
	}
	return ParseLevel(configValue)
}

// New returns a logger writing to output at level.
func New(output io.Writer, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(output) {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OpenFile opens path for appending with owner-only permissions and
// returns a JSON logger on it. The caller closes the returned file.
func OpenFile(path string, level slog.Level) (*slog.Logger, *os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return New(file, level), file, nil
}

func isTerminal(output io.Writer) bool {
	file, ok := output.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// Fanout returns a handler that passes each record to every handler
// enabled for its level. It is enabled if any of them is.
func Fanout(handlers ...slog.Handler) slog.Handler {
	return fanoutHandler(handlers)
}

type fanoutHandler []slog.Handler

func (handlers fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (handlers fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (handlers fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers fanoutHandler) WithGroup(name string) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}
