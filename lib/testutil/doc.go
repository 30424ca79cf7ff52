// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for cabin packages.
//
// [RequireReceive], [RequireSend] and [RequireClosed] wrap the select
// with a wall-clock fallback so a broken test fails instead of hanging.
// [RequireEventually] polls a condition for state that is published
// from another goroutine, such as a listener's bound address or a
// connection reaching a terminal state. These helpers are the only
// place tests use real timeouts; timing under test goes through
// lib/clock.
//
// [UniqueID] generates increasing identifiers for channel names and
// message bodies that must be distinguishable across subtests.
//
// All helpers call t.Fatalf on failure.
package testutil
