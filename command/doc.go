// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package command parses user input lines into typed commands.
//
// [Parse] turns a line into one of the concrete [Command] structs
// (CabalAdd, Join, Listen, ...) or returns an [*Error] whose [Kind] is
// KindUnknownCommand or KindMalformedArguments. A line that does not
// start with "/" is a [Say]; a leading "//" escapes a literal slash.
//
// The session orchestrator dispatches on the concrete type with an
// exhaustive type switch and reports failures through the same
// [*Error] type, using the remaining kinds (KindNoActiveCabal,
// KindNoSuchWindow, ...). Every *Error is user-scoped: it becomes a
// status line and never changes state.
package command
