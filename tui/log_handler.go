// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// logRecordMsg delivers a log record to the model for display in the
// window bar.
type logRecordMsg struct {
	Summary string
	Level   slog.Level
}

// logRecordFadeMsg clears the notice it was scheduled for. A newer
// notice bumps the generation, so stale fades are ignored.
type logRecordFadeMsg struct {
	generation int
}

// logRecordFadeDelay is how long a notice replaces the window bar.
const logRecordFadeDelay = 5 * time.Second

// LogHandler is a slog.Handler that routes records into a running
// program, so warnings surface on screen instead of corrupting the
// alternate screen via stderr. Records arriving before SetProgram are
// dropped.
//
// Handlers derived through WithAttrs and WithGroup share the program
// pointer, so one SetProgram call reaches all of them.
type LogHandler struct {
	level   slog.Level
	program *atomic.Pointer[tea.Program]
	attrs   []slog.Attr
	groups  []string
}

// NewLogHandler returns a handler delivering records at or above
// level.
func NewLogHandler(level slog.Level) *LogHandler {
	return &LogHandler{level: level, program: &atomic.Pointer[tea.Program]{}}
}

// SetProgram sets the program that receives records. Safe from any
// goroutine.
func (handler *LogHandler) SetProgram(program *tea.Program) {
	handler.program.Store(program)
}

// Enabled implements slog.Handler.
func (handler *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level
}

// Handle implements slog.Handler.
func (handler *LogHandler) Handle(_ context.Context, record slog.Record) error {
	program := handler.program.Load()
	if program == nil {
		return nil
	}
	program.Send(logRecordMsg{Summary: handler.summary(record), Level: record.Level})
	return nil
}

// summary renders "message (key=value, ...)" with handler attributes
// first.
func (handler *LogHandler) summary(record slog.Record) string {
	prefix := strings.Join(handler.groups, ".")
	if prefix != "" {
		prefix += "."
	}
	var parts []string
	for _, attr := range handler.attrs {
		parts = append(parts, fmt.Sprintf("%s=%s", attr.Key, attr.Value))
	}
	record.Attrs(func(attr slog.Attr) bool {
		parts = append(parts, fmt.Sprintf("%s%s=%s", prefix, attr.Key, attr.Value))
		return true
	})
	if len(parts) == 0 {
		return record.Message
	}
	return record.Message + " (" + strings.Join(parts, ", ") + ")"
}

// WithAttrs implements slog.Handler.
func (handler *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{
		level:   handler.level,
		program: handler.program,
		attrs:   append(slices.Clone(handler.attrs), attrs...),
		groups:  slices.Clone(handler.groups),
	}
}

// WithGroup implements slog.Handler.
func (handler *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{
		level:   handler.level,
		program: handler.program,
		attrs:   slices.Clone(handler.attrs),
		groups:  append(slices.Clone(handler.groups), name),
	}
}
