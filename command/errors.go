// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"errors"
	"fmt"
)

// Kind classifies a user-scoped command failure.
type Kind string

const (
	KindUnknownCommand     Kind = "unknown_command"
	KindMalformedArguments Kind = "malformed_arguments"
	KindNoActiveCabal      Kind = "no_active_cabal"
	KindUnknownCabal       Kind = "unknown_cabal"
	KindUnknownChannel     Kind = "unknown_channel"
	KindNoSuchWindow       Kind = "no_such_window"
	KindNoActiveChannel    Kind = "no_active_channel"
	KindAlreadyExists      Kind = "already_exists"
	KindNotJoined          Kind = "not_joined"
	KindFailed             Kind = "failed"
)

// Error is a categorized command failure. It wraps the human-readable
// cause; the Kind travels alongside for tests and callers that branch
// on the category.
type Error struct {
	Kind Kind
	Err  error
}

// Error returns the underlying message. The kind is not included.
func (e *Error) Error() string { return e.Err.Error() }

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var commandErr *Error
	if errors.As(err, &commandErr) {
		return commandErr.Kind
	}
	return ""
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// UnknownCommand reports an unrecognized command name, suggesting the
// closest known one when there is a near match.
func UnknownCommand(name string) *Error {
	if name == "" {
		return newError(KindUnknownCommand, "empty command. see /help")
	}
	if suggestion := suggest(name); suggestion != "" {
		return newError(KindUnknownCommand, "unknown command /%s (did you mean /%s?) see /help", name, suggestion)
	}
	return newError(KindUnknownCommand, "unknown command /%s. see /help for the command list", name)
}

// Malformed reports bad arguments, quoting the usage line.
func Malformed(usage string, format string, args ...any) *Error {
	return newError(KindMalformedArguments, "%s (usage: %s)", fmt.Sprintf(format, args...), usage)
}

// NoActiveCabal reports a cabal-scoped command with no active cabal.
func NoActiveCabal() *Error {
	return newError(KindNoActiveCabal, "no active cabal. add one with /cabal add KEY")
}

// UnknownCabal reports a cabal key that was never added.
func UnknownCabal(key string) *Error {
	return newError(KindUnknownCabal, "unknown cabal %s. see /cabal list", key)
}

// UnknownChannel reports a channel the active cabal does not know.
func UnknownChannel(name string) *Error {
	return newError(KindUnknownChannel, "unknown channel %s", name)
}

// NoSuchWindow reports a window index or name that is not open.
func NoSuchWindow(target string) *Error {
	return newError(KindNoSuchWindow, "no such window: %s", target)
}

// NoActiveChannel reports a channel-scoped command issued from a
// window that is not bound to a channel.
func NoActiveChannel(what string) *Error {
	return newError(KindNoActiveChannel, "can't %s in status window. see /help", what)
}

// AlreadyExists reports an add of something already present.
func AlreadyExists(format string, args ...any) *Error {
	return newError(KindAlreadyExists, format, args...)
}

// NotJoined reports an operation on a channel that was not joined.
func NotJoined(channel string) *Error {
	return newError(KindNotJoined, "not joined to %s. use /join %s", channel, channel)
}

// Failed wraps an operational failure (bind, engine, store) that is
// still user-scoped.
func Failed(err error, format string, args ...any) *Error {
	return &Error{Kind: KindFailed, Err: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)}
}
