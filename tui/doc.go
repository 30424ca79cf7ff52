// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui is cabin's terminal front end. It draws session
// snapshots and hands typed lines back to the session as user input;
// it never mutates session state itself.
//
// Two front ends share the line formatting in this package:
//
//   - [Model] is a bubbletea program: a header naming the active cabal
//     and channel, the focused window's log, a bar listing open windows
//     with unread counts, and an input line. Snapshots reach it through
//     [ProgramRenderer]; background log records through [LogHandler].
//   - [Plain] prints each new window line as "[window] [HH:MM] text"
//     and reads commands from a line-oriented reader. It is used when
//     stdin is not a terminal or when the user asks for it.
package tui
