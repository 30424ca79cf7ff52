// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "testing"

func TestStateTransitions(t *testing.T) {
	legal := map[[2]State]bool{
		{StateConnecting, StateHandshaking}:  true,
		{StateConnecting, StateClosing}:      true,
		{StateConnecting, StateFailed}:       true,
		{StateHandshaking, StateEstablished}: true,
		{StateHandshaking, StateClosing}:     true,
		{StateHandshaking, StateFailed}:      true,
		{StateEstablished, StateClosing}:     true,
		{StateEstablished, StateFailed}:      true,
		{StateClosing, StateClosed}:          true,
		{StateClosing, StateFailed}:          true,
	}
	all := []State{StateConnecting, StateHandshaking, StateEstablished, StateClosing, StateClosed, StateFailed}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]State{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s allowed = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStateTerminal(t *testing.T) {
	for _, state := range []State{StateConnecting, StateHandshaking, StateEstablished, StateClosing} {
		if state.Terminal() {
			t.Errorf("%s.Terminal() = true", state)
		}
	}
	for _, state := range []State{StateClosed, StateFailed} {
		if !state.Terminal() {
			t.Errorf("%s.Terminal() = false", state)
		}
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("String() of unknown state = %q", got)
	}
}
