// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package station

// ConnectionState is the reconnect orchestrator's view of the link
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	default:
		return "Unknown"
	}
}

// CanTransition reports whether moving from s to next is allowed
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	switch s {
	case StateDisconnected:
		return next == StateConnecting
	case StateConnecting:
		// Disconnected only on shutdown while still retrying
		return next == StateOpen || next == StateDisconnected
	case StateOpen:
		return next == StateDisconnected
	default:
		return false
	}
}
